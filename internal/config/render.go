package config

import (
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Render encodes the configuration as "yaml" or "toml". The output can be
// read back with ReadFile. The TLS passphrase is masked unless reveal is set.
func (c Config) Render(format string, reveal bool) ([]byte, error) {
	if !reveal && c.Server.TLS.Passphrase != "" {
		c.Server.TLS.Passphrase = "********"
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		return out, nil
	case "toml":
		// Round trip through a generic map so durations keep their
		// string form ("24h0m0s") instead of nanosecond integers.
		var tree map[string]any
		if err := yaml.Unmarshal(out, &tree); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		b, err := toml.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("encode toml: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown config format %q (want yaml or toml)", format)
	}
}
