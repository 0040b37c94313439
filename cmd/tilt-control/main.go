package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/cli"
	"github.com/tiltbrew/tilt-bridge/pkg/permission"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
	"github.com/tiltbrew/tilt-bridge/pkg/publish"
	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Without a COMMAND, an interactive shell is started.
 * Scanning commands use the backend selected with -backend (tinygo, goble or sim).
 * Readings are forwarded to cloud logging when -cloud-url or -cloud-name is set.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] [COMMAND [ARG...]]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(ctx context.Context, env *environment, args []string, timeout time.Duration) int {
	if info, ok := commands[args[0]]; !ok || !info.untimed {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := execute(ctx, env, args); err != nil {
		var denied *permission.DeniedError
		if protocol.IsLinkError(err) {
			writeErr("%s", err)
		} else if errors.As(err, &denied) {
			writeErr("Scanning requires permissions that were not granted: %s", err)
		} else if errors.Is(err, permission.ErrUnsupported) {
			writeErr("BLE scanning is not supported on this platform. Use -backend sim or -permissions none.")
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(ctx context.Context, env *environment, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if args[0] == "help" {
			if info, ok := commands[args[len(args)-1]]; ok {
				info.Usage(args[len(args)-1])
			} else {
				Usage()
			}
			continue
		}
		runCommand(ctx, env, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

// printUpdate writes readings to stdout and state changes to stderr.
func printUpdate(u scan.Update) {
	switch {
	case u.Reading != nil:
		fmt.Println(FormatReading(*u.Reading))
	case u.Err != nil:
		writeErr("Scan stopped: %s", u.Err)
	case u.Warning == nil:
		writeErr("[%s]", u.State)
	}
}

func needsBridge(args []string) bool {
	if len(args) == 0 {
		return true
	}
	info, ok := commands[args[0]]
	return ok && info.requiresBridge
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug          bool
		jsonOutput     bool
		commandTimeout time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		os.Exit(1)
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.BoolVar(&jsonOutput, "json", false, "Print readings and state changes as JSON lines")
	flag.DurationVar(&commandTimeout, "command-timeout", 30*time.Second, "Set timeout for commands, including permission prompts.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	if err := config.LoadFile(); err != nil {
		writeErr("Error loading configuration: %s", err)
		return
	}
	if err := config.ApplyLogLevel(); err != nil {
		writeErr("Invalid log level: %s", err)
		return
	}
	if !debug {
		if debugEnv, ok := os.LookupEnv("TILT_VERBOSE"); ok {
			debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "help" {
		if len(args) == 1 {
			Usage()
			status = 0
			return
		}
		info, ok := commands[args[1]]
		if !ok {
			writeErr("Unrecognized command: %s", args[1])
			return
		}
		info.Usage(args[1])
		status = 0
		return
	}
	if len(args) > 0 {
		if _, ok := commands[args[0]]; !ok {
			writeErr("Unrecognized command: %s", args[0])
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &environment{config: config, out: os.Stdout}
	if needsBridge(args) {
		bridge, err := config.Connect(ctx)
		if err != nil {
			writeErr("Error: %s", err)
			return
		}
		defer bridge.Close()
		env.bridge = bridge

		if jsonOutput {
			w := publish.NewJSONWriter(os.Stdout)
			bridge.Session.Subscribe(w.Record)
		} else {
			bridge.Session.Subscribe(printUpdate)
		}

		logger, err := config.CloudLogger()
		switch {
		case err == nil:
			bridge.Session.Subscribe(logger.Record)
			go logger.Run(ctx)
		case !errors.Is(err, cli.ErrNoCloudURL):
			writeErr("Cloud logging disabled: %s", err)
		}
	}

	if len(args) > 0 {
		status = runCommand(ctx, env, args, commandTimeout)
	} else {
		status = runInteractiveShell(ctx, env, commandTimeout)
	}
}
