/*
Package cli facilitates building command-line applications that bridge Tilt hydrometers. It defines
a [Config] type that can be used to register common command-line flags (using the Golang flag
package), environment variable equivalents and a YAML configuration file.

Values are resolved in order of precedence: command-line flags, then environment variables, then
the configuration file.

The package uses [keyring]'s platform-agnostic interface for storing the cloud logging URL, which
embeds a private spreadsheet token, in an OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the scan backend, cloud logging, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.LoadFile(); err != nil {
		panic(err)
	}

	bridge, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}
	defer bridge.Close()

Missing Bluetooth support does not cause Connect to fail. Instead, the returned bridge reports a
*protocol.LinkError when scanning starts, with steps to fix the host configuration.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/tiltbrew/tilt-bridge/internal/log"
	"github.com/tiltbrew/tilt-bridge/pkg/permission"
)

// Scan backends accepted by [Config.ScanBackend].
const (
	BackendTinyGo = "tinygo" // tinygo.org/x/bluetooth (BlueZ over D-Bus on Linux)
	BackendGoBLE  = "goble"  // github.com/go-ble/ble (raw HCI on Linux)
	BackendSim    = "sim"    // Simulated hydrometers
)

var backends = []string{BackendTinyGo, BackendGoBLE, BackendSim}

// Environment variable names used are used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvTiltConfigFile    = "TILT_CONFIG_FILE"
	EnvTiltBackend       = "TILT_BACKEND"
	EnvTiltBtAdapter     = "TILT_BT_ADAPTER"
	EnvTiltPermissions   = "TILT_PERMISSIONS"
	EnvTiltGrantAll      = "TILT_GRANT_ALL"
	EnvTiltSimColors     = "TILT_SIM_COLORS"
	EnvTiltCloudURL      = "TILT_CLOUD_URL"
	EnvTiltCloudName     = "TILT_CLOUD_NAME"
	EnvTiltCloudInterval = "TILT_CLOUD_INTERVAL"
	EnvTiltBeer          = "TILT_BEER"
	EnvTiltCacheFile     = "TILT_CACHE_FILE"
	EnvTiltLogLevel      = "TILT_LOG_LEVEL"
	EnvTiltKeyringType   = "TILT_KEYRING_TYPE"
	EnvTiltKeyringPass   = "TILT_KEYRING_PASSWORD"
	EnvTiltKeyringPath   = "TILT_KEYRING_PATH"
	EnvTiltKeyringDebug  = "TILT_KEYRING_DEBUG"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagScan    Flag = 1 // Enable scan backend and permission options.
	FlagCloud   Flag = 2 // Enable cloud logging options. Enables keyring options.
	FlagCache   Flag = 4 // Enable reading cache options.
	FlagLogging Flag = 8 // Enable log level option.
	FlagAll     Flag = FlagScan | FlagCloud | FlagCache | FlagLogging
)

var (
	ErrNoCloudURL     = errors.New("cloud logging URL not provided")
	ErrUnknownBackend = errors.New("unknown scan backend")
	ErrKeyNotFound    = keyring.ErrKeyNotFound
)

// Config fields determine how the bridge scans and where readings go.
type Config struct {
	Flags      Flag   // Controls which set of environment variables/CLI flags to use.
	ConfigFile string // YAML file consulted for values not set by flags or the environment

	ScanBackend      string // One of BackendTinyGo, BackendGoBLE, BackendSim
	BtAdapterID      string
	PermissionPolicy string // Permission policy name; defaults to the policy of the host OS
	GrantAll         bool   // Answer permission prompts with "granted" without asking
	SimColors        string // Comma-separated colours simulated by BackendSim

	CloudURL         string
	KeyringCloudName string // Username for cloud logging URL in system keyring
	CloudInterval    time.Duration
	Beer             string // Beer name reported to cloud logging

	CacheFilename string
	LogLevel      string

	Keyring     keyring.Config
	KeyringType backendType
	Debug       bool // Enable keyring debug messages

	password *string
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Keyring: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.KeyringType = backendType{&c}
	c.Keyring.KeychainPasswordFunc = c.getPassword
	c.Keyring.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags adds c's options to the flag.CommandLine flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds c's options to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", "", "YAML configuration `file`. Defaults to $TILT_CONFIG_FILE.")
	if c.Flags.isSet(FlagScan) {
		fs.StringVar(&c.ScanBackend, "backend", "", "Scan `backend` ("+strings.Join(backends, "|")+"). Defaults to $TILT_BACKEND or tinygo.")
		fs.StringVar(&c.PermissionPolicy, "permissions", "", "Permission `policy` (prompt|none|unsupported). Defaults to $TILT_PERMISSIONS or the host OS policy.")
		fs.BoolVar(&c.GrantAll, "grant-all", false, "Grant permission prompts without asking. Defaults to $TILT_GRANT_ALL.")
		fs.StringVar(&c.SimColors, "sim-colors", "", "Comma-separated `colours` simulated by the sim backend. Defaults to $TILT_SIM_COLORS or Red.")
		c.registerFlagsOsSpecific(fs)
	}
	if c.Flags.isSet(FlagCloud) {
		fs.StringVar(&c.CloudURL, "cloud-url", "", "Cloud logging `URL`. Defaults to $TILT_CLOUD_URL.")
		fs.StringVar(&c.KeyringCloudName, "cloud-name", "", "System keyring `name` for cloud logging URL. Defaults to $TILT_CLOUD_NAME.")
		fs.DurationVar(&c.CloudInterval, "cloud-interval", 0, "Minimum `interval` between cloud posts per hydrometer. Defaults to $TILT_CLOUD_INTERVAL or 15m.")
		fs.StringVar(&c.Beer, "beer", "", "Beer `name` reported to cloud logging. Defaults to $TILT_BEER.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.KeyringType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $TILT_KEYRING_TYPE.")
		fs.StringVar(&c.Keyring.FileDir, "keyring-file-dir", keyringDirectory, "keyring `directory` for file-backed keyring types")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
	if c.Flags.isSet(FlagCache) {
		fs.StringVar(&c.CacheFilename, "reading-cache", "", "Load latest readings from `file`. Defaults to $TILT_CACHE_FILE.")
	}
	if c.Flags.isSet(FlagLogging) {
		fs.StringVar(&c.LogLevel, "log-level", "", "Log `level` (none|error|warning|info|debug). Defaults to $TILT_LOG_LEVEL or info.")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	setString := func(field *string, env, description string) {
		if *field == "" {
			if value, ok := os.LookupEnv(env); ok {
				*field = value
				log.Debug("Set %s to '%s'", description, value)
			}
		}
	}

	setString(&c.ConfigFile, EnvTiltConfigFile, "config file")
	if c.Flags.isSet(FlagScan) {
		setString(&c.ScanBackend, EnvTiltBackend, "scan backend")
		setString(&c.BtAdapterID, EnvTiltBtAdapter, "Bluetooth adapter")
		setString(&c.PermissionPolicy, EnvTiltPermissions, "permission policy")
		setString(&c.SimColors, EnvTiltSimColors, "simulated colours")
		if !c.GrantAll {
			_, c.GrantAll = os.LookupEnv(EnvTiltGrantAll)
		}
	}
	if c.Flags.isSet(FlagCloud) {
		if c.CloudURL == "" && c.KeyringCloudName == "" {
			if value, ok := os.LookupEnv(EnvTiltCloudURL); ok {
				c.CloudURL = value
				log.Debug("Set cloud logging URL from environment")
			}
			setString(&c.KeyringCloudName, EnvTiltCloudName, "cloud logging URL name")
		}
		if c.CloudInterval == 0 {
			if value := os.Getenv(EnvTiltCloudInterval); value != "" {
				if d, err := time.ParseDuration(value); err == nil {
					c.CloudInterval = d
					log.Debug("Set cloud logging interval to %s", d)
				} else {
					log.Warning("Ignoring %s: %s", EnvTiltCloudInterval, err)
				}
			}
		}
		setString(&c.Beer, EnvTiltBeer, "beer name")

		if c.KeyringType.String() == string(keyring.InvalidBackend) {
			if err := c.KeyringType.Set(os.Getenv(EnvTiltKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.KeyringType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvTiltKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		if c.Keyring.FileDir == "" {
			c.Keyring.FileDir = os.Getenv(EnvTiltKeyringPath)
			log.Debug("Set keyring File Path to '%s'", c.Keyring.FileDir)
		}
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvTiltKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
	if c.Flags.isSet(FlagCache) {
		setString(&c.CacheFilename, EnvTiltCacheFile, "reading cache file")
	}
	if c.Flags.isSet(FlagLogging) {
		setString(&c.LogLevel, EnvTiltLogLevel, "log level")
	}
}

// ApplyLogLevel sets the global log level from c.LogLevel. An empty level selects info.
func (c *Config) ApplyLogLevel() error {
	name := c.LogLevel
	if name == "" {
		name = "info"
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// Backend returns the configured scan backend.
func (c *Config) Backend() (string, error) {
	if c.ScanBackend == "" {
		return BackendTinyGo, nil
	}
	name := strings.ToLower(c.ScanBackend)
	for _, b := range backends {
		if b == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("%w '%s'", ErrUnknownBackend, c.ScanBackend)
}

// Policy returns the configured permission policy, or the policy of goos if none is configured.
func (c *Config) Policy(goos string) (permission.Policy, error) {
	if c.PermissionPolicy == "" {
		return permission.DefaultPolicy(goos), nil
	}
	var p permission.Policy
	if err := p.Set(c.PermissionPolicy); err != nil {
		return permission.PolicyUnsupported, err
	}
	return p, nil
}

// Colors returns the colours simulated by the sim backend.
func (c *Config) Colors() []string {
	if strings.TrimSpace(c.SimColors) == "" {
		return []string{"Red"}
	}
	var colors []string
	for _, color := range strings.Split(c.SimColors, ",") {
		color = strings.TrimSpace(color)
		if color == "" {
			continue
		}
		colors = append(colors, strings.ToUpper(color[:1])+strings.ToLower(color[1:]))
	}
	return colors
}
