package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tiltbrew/tilt-bridge/pkg/cli"
	"github.com/tiltbrew/tilt-bridge/pkg/protocol"
	"github.com/tiltbrew/tilt-bridge/pkg/scan"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrRequiresBridge  = errors.New("command requires a scan backend")
)

type Argument struct {
	name string
	help string
}

// environment is the state shared by command handlers.
type environment struct {
	config *cli.Config
	bridge *cli.Bridge
	out    io.Writer
}

type Handler func(ctx context.Context, env *environment, args map[string]string) error

type Command struct {
	help           string
	requiresBridge bool // True if command uses the scan session
	untimed        bool // True if command is not subject to -command-timeout
	args           []Argument
	optional       []Argument
	handler        Handler
}

func parseFloat(name, value string) (float64, error) {
	x, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", ErrCommandLineArgs, name)
	}
	return x, nil
}

func parseDuration(value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if seconds, atoiErr := strconv.Atoi(value); atoiErr == nil {
		d, err = time.Duration(seconds)*time.Second, nil
	}
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: expected a positive duration such as 30s or 5m", ErrCommandLineArgs)
	}
	return d, nil
}

// FormatReading renders r for terminal output.
func FormatReading(r scan.Reading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-7s %5.1f°F (%4.1f°C)  SG %.3f", r.DeviceID, r.Temperature, r.Celsius(), r.Gravity)
	if r.RSSI != nil {
		fmt.Fprintf(&b, "  RSSI %d", *r.RSSI)
	}
	if r.Address != nil {
		fmt.Fprintf(&b, "  [%s]", *r.Address)
	}
	return b.String()
}

func checkReadiness(commandName string, haveBridge bool) (*Command, error) {
	info, ok := commands[commandName]
	if !ok {
		return nil, ErrUnknownCommand
	}
	if info.requiresBridge && !haveBridge {
		return nil, ErrRequiresBridge
	}
	return info, nil
}

func execute(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, err := checkReadiness(args[0], env.bridge != nil)
	if err != nil {
		return err
	}

	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, env, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

func startScan(ctx context.Context, env *environment) error {
	state, err := env.bridge.Session.Start(ctx)
	if errors.Is(err, protocol.ErrAlreadyActive) {
		fmt.Fprintf(env.out, "Already %s\n", state)
		return nil
	}
	return err
}

var commands = map[string]*Command{
	"start": &Command{
		help:           "Request permissions and start scanning. Readings are printed as they arrive.",
		requiresBridge: true,
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			return startScan(ctx, env)
		},
	},
	"stop": &Command{
		help:           "Stop scanning",
		requiresBridge: true,
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			env.bridge.Session.Stop()
			return nil
		},
	},
	"watch": &Command{
		help:           "Scan for a while, then stop",
		requiresBridge: true,
		untimed:        true,
		optional: []Argument{
			Argument{name: "DURATION", help: "How long to scan, e.g. 30s or 5m (default 1m)"},
		},
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			duration := time.Minute
			if value, ok := args["DURATION"]; ok {
				var err error
				if duration, err = parseDuration(value); err != nil {
					return err
				}
			}
			if err := startScan(ctx, env); err != nil {
				return err
			}
			defer env.bridge.Session.Stop()

			timer := time.NewTimer(duration)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	},
	"status": &Command{
		help:           "Print scan state and latest readings",
		requiresBridge: true,
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			snap := env.bridge.Session.Snapshot()
			fmt.Fprintf(env.out, "State: %s\n", snap.State)
			if snap.Latest != nil {
				fmt.Fprintf(env.out, "Latest: %s (%s)\n", FormatReading(*snap.Latest), snap.Latest.ObservedAt.Format(time.RFC3339))
			}
			if readings := env.bridge.Readings; readings != nil {
				for _, id := range readings.DeviceIDs() {
					entry, _ := readings.GetEntry(id)
					fmt.Fprintf(env.out, "  %-7s %5.1f°F  SG %.3f  %s\n", id, entry.Temperature, entry.Gravity, entry.ObservedAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	},
	"multiply": &Command{
		help:           "Check that the native module is linked by multiplying two numbers",
		requiresBridge: true,
		args: []Argument{
			Argument{name: "X", help: "Number"},
			Argument{name: "Y", help: "Number"},
		},
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			x, err := parseFloat("X", args["X"])
			if err != nil {
				return err
			}
			y, err := parseFloat("Y", args["Y"])
			if err != nil {
				return err
			}
			product, err := env.bridge.Binding.Multiply(ctx, x, y)
			if err != nil {
				return err
			}
			fmt.Fprintln(env.out, strconv.FormatFloat(product, 'g', -1, 64))
			return nil
		},
	},
	"cloud-save": &Command{
		help: "Store a cloud logging URL in the system keyring under -cloud-name",
		args: []Argument{
			Argument{name: "URL", help: "Cloud logging URL"},
		},
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			return env.config.SaveCloudURLToKeyring(args["URL"])
		},
	},
	"cloud-delete": &Command{
		help: "Remove the cloud logging URL stored under -cloud-name",
		handler: func(ctx context.Context, env *environment, args map[string]string) error {
			return env.config.DeleteCloudURL()
		},
	},
}
