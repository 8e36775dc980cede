package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoShare Configuration File
#
# Every key can be overridden with an environment variable named after its
# path, e.g. DITTOSHARE_LOGGING_LEVEL=DEBUG or DITTOSHARE_SERVICES_FILES_PORT=8080.
# Backend sections (records, blobs, cache, notify) hold one block per
# implementation; only the block matching "type" is used.
`

var sectionComments = map[string]string{
	"logging":  "Log output: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, file path)",
	"server":   "Process-wide settings and the Prometheus endpoint",
	"auth":     "Token verification used by the file API and the notifier",
	"records":  "File record store: memory, badger or sqlite",
	"blobs":    "Payload store: memory, fs or s3 (s3 needs bucket and region)",
	"cache":    "Cache in front of the record store: none, memory or redis",
	"notify":   "How share events reach the notifier: none, local, http or amqp",
	"services": "Network services; set enabled: false to run a subset in this process",
}

// InitConfig writes a default configuration to the default location and
// returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration to path.
//
// The file is created with 0600 permissions since it carries the
// authority's signing secret.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML using the mapstructure key
// names, with a comment above each top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var tree map[string]any
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return "", fmt.Errorf("failed to convert config: %w", err)
	}

	var doc yaml.Node
	if err := doc.Encode(tree); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping nodes alternate key and value.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}
