package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# Gatekeep Configuration File
#
# Every key can be overridden by an environment variable with the GATEKEEP_
# prefix, for example GATEKEEP_SERVER_ADDRESS or GATEKEEP_AUTH_ACCESS_TTL.
`

// sectionComments are written above each top-level key.
var sectionComments = map[string]string{
	"logging":    "# Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, path)",
	"server":     "# Listener, worker pool and per-connection limits. Timeouts of 0 disable the deadline.",
	"auth":       "# Token secrets. The access and refresh secrets must differ.\n# Requests whose path starts with a public prefix skip authentication.",
	"cors":       "# Origin allowed to call the gateway from a browser",
	"store":      "# User store backend: memory, badger or bolt",
	"rate_limit": "# Global token bucket applied before authentication",
	"metrics":    "# Prometheus endpoint",
}

// InitConfig writes a sample configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration to path. The file gets
// freshly generated secrets so it loads and validates as is.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()

	var err error
	if cfg.Auth.AccessSecret, err = generateSecret(); err != nil {
		return err
	}
	if cfg.Auth.RefreshSecret, err = generateSecret(); err != nil {
		return err
	}

	content, err := generateYAMLWithComments(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Secrets inside: owner only.
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment above each
// section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	return buf.String(), nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
