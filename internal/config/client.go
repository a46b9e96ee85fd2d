package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Client holds problemctl settings.
type Client struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	TokenFile      string        `yaml:"token_file"`
	SearchDebounce time.Duration `yaml:"search_debounce"`
}

// DefaultClient returns the settings used when no file is present.
// TokenFile lives next to the user's config dir when one is resolvable.
func DefaultClient() Client {
	c := Client{
		BaseURL:        "http://localhost:8080/api/v1",
		Timeout:        10 * time.Second,
		SearchDebounce: 300 * time.Millisecond,
	}
	if dir, err := os.UserConfigDir(); err == nil {
		c.TokenFile = filepath.Join(dir, "problemctl", "token.json")
	}
	return c
}

// LoadClient reads a YAML client config from path on top of DefaultClient.
// A missing file is not an error. PROBLEMCTL_BASE_URL and
// PROBLEMCTL_TOKEN_FILE override the file.
func LoadClient(path string) (Client, error) {
	c := DefaultClient()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return c, err
		}
	}
	c.BaseURL = getenv("PROBLEMCTL_BASE_URL", c.BaseURL)
	c.TokenFile = getenv("PROBLEMCTL_TOKEN_FILE", c.TokenFile)

	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return c, errors.New("base_url must not be empty")
	}
	if c.Timeout <= 0 {
		return c, errors.New("timeout must be a positive duration")
	}
	if c.SearchDebounce < 0 {
		return c, errors.New("search_debounce must be >= 0")
	}
	return c, nil
}
