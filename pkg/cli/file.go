package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiltbrew/tilt-bridge/internal/log"
)

// FileConfig is the layout of the YAML configuration file.
type FileConfig struct {
	Scan struct {
		Backend     string   `yaml:"backend"`
		BtAdapter   string   `yaml:"bt_adapter"`
		Permissions string   `yaml:"permissions"`
		GrantAll    bool     `yaml:"grant_all"`
		SimColors   []string `yaml:"sim_colors"`
	} `yaml:"scan"`
	Cloud struct {
		URL      string `yaml:"url"`
		Name     string `yaml:"keyring_name"`
		Interval string `yaml:"interval"`
		Beer     string `yaml:"beer"`
	} `yaml:"cloud"`
	CacheFile string `yaml:"cache_file"`
	LogLevel  string `yaml:"log_level"`
}

// LoadFile fills fields of c that are still empty from c.ConfigFile. A missing file is only an
// error if ConfigFile was set explicitly.
func (c *Config) LoadFile() error {
	if c.ConfigFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s does not exist", c.ConfigFile)
		}
		return err
	}
	log.Debug("Loading configuration from %s...", c.ConfigFile)
	return c.applyFile(data)
}

func (c *Config) applyFile(data []byte) error {
	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	if c.Flags.isSet(FlagScan) {
		fill(&c.ScanBackend, file.Scan.Backend)
		fill(&c.BtAdapterID, file.Scan.BtAdapter)
		fill(&c.PermissionPolicy, file.Scan.Permissions)
		c.GrantAll = c.GrantAll || file.Scan.GrantAll
		if c.SimColors == "" && len(file.Scan.SimColors) > 0 {
			for i, color := range file.Scan.SimColors {
				if i > 0 {
					c.SimColors += ","
				}
				c.SimColors += color
			}
		}
	}
	if c.Flags.isSet(FlagCloud) {
		if c.CloudURL == "" && c.KeyringCloudName == "" {
			c.CloudURL = file.Cloud.URL
			c.KeyringCloudName = file.Cloud.Name
		}
		if c.CloudInterval == 0 && file.Cloud.Interval != "" {
			d, err := time.ParseDuration(file.Cloud.Interval)
			if err != nil {
				return fmt.Errorf("invalid cloud interval: %w", err)
			}
			c.CloudInterval = d
		}
		fill(&c.Beer, file.Cloud.Beer)
	}
	if c.Flags.isSet(FlagCache) {
		fill(&c.CacheFilename, file.CacheFile)
	}
	if c.Flags.isSet(FlagLogging) {
		fill(&c.LogLevel, file.LogLevel)
	}
	return nil
}
