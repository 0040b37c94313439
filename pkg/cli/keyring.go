package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName  = "io.tiltbrew.bridge"
	keyringCloudService = "cloudurl"
	keyringDirectory    = "~/.tilt_bridge"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Keyring.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Keyring.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Keyring.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	if c.Debug {
		keyring.Debug = true
	}
	return keyring.Open(c.Keyring)
}

func (c *Config) fullCloudName() string {
	return keyringCloudService + "." + c.KeyringCloudName
}

// LoadCloudURLFromKeyring loads the cloud logging URL from the system keyring.
//
// The name must match the value of c.KeyringCloudName used with SaveCloudURLToKeyring.
func (c *Config) LoadCloudURLFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}

	item, err := kr.Get(c.fullCloudName())
	if err != nil {
		return "", fmt.Errorf("could not load cloud logging URL: %w", err)
	}
	return string(item.Data), nil
}

// SaveCloudURLToKeyring writes a cloud logging URL to the system keyring under
// c.KeyringCloudName.
func (c *Config) SaveCloudURLToKeyring(url string) error {
	if c.KeyringCloudName == "" {
		return fmt.Errorf("no keyring name configured for cloud logging URL")
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:   c.fullCloudName(),
		Label: "Tilt cloud logging URL",
		Data:  []byte(url),
	}); err != nil {
		return fmt.Errorf("failed to enroll cloud logging URL in keyring: %s", err)
	}
	return nil
}

// DeleteCloudURL removes the cloud logging URL from the system keyring.
func (c *Config) DeleteCloudURL() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullCloudName())
}

// CloudLoggingURL returns c.CloudURL, or the URL stored in the keyring under
// c.KeyringCloudName. It returns ErrNoCloudURL if neither is configured.
func (c *Config) CloudLoggingURL() (string, error) {
	if c.CloudURL != "" {
		return c.CloudURL, nil
	}
	if c.KeyringCloudName == "" {
		return "", ErrNoCloudURL
	}
	return c.LoadCloudURLFromKeyring()
}
