package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/13rac1/sqpurge/internal/output"
	"github.com/13rac1/sqpurge/internal/redactor"
	"github.com/13rac1/sqpurge/internal/types"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by CreateStarterConfig when the target file is already present.
var ErrConfigExists = errors.New("config file already exists")

var sectionComments = map[string]string{
	"sonarqube": "SonarQube server. SQ_USER_TOKEN and SQ_URL override these values,\nand --user_token / --sonarqube_url override both.",
	"output":    "Search results file and terminal format (plain or table).",
	"archive":   "Optional S3-compatible bucket for run reports (used with --archive).\nSet endpoint and force_path_style for MinIO, Backblaze B2 and similar.",
	"auth":      "Archive credentials. Static keys win over profile; leave both empty\nto use the default AWS credential chain.",
	"logging":   "Structured log file. Level is debug, info, warn or error.",
}

// starterConfig returns the values written by CreateStarterConfig.
func starterConfig() types.Config {
	return types.Config{
		SonarQube: types.SonarQubeConfig{
			UserToken: "",
			URL:       "https://sonarqube.example.com",
		},
		Output: types.OutputConfig{
			File:   output.DefaultFile,
			Format: output.FormatPlain,
		},
		Archive: types.ArchiveConfig{
			Bucket: "",
			Prefix: defaultArchivePrefix,
			Region: "us-east-1",
		},
		Logging: types.LoggingConfig{
			Level:    defaultLogLevel,
			File:     defaultLogFile,
			MaxSize:  defaultLogMaxSize,
			MaxFiles: defaultLogMaxFiles,
		},
	}
}

// StarterYAML renders the starter config with a comment above each section.
func StarterYAML() ([]byte, error) {
	var doc yaml.Node
	cfg := starterConfig()
	if err := doc.Encode(&cfg); err != nil {
		return nil, fmt.Errorf("encoding starter config: %w", err)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	var buf bytes.Buffer
	buf.WriteString("# sqpurge configuration\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encoding starter config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding starter config: %w", err)
	}
	return buf.Bytes(), nil
}

// CreateStarterConfig writes a commented starter config to path, creating
// parent directories. It refuses to overwrite an existing file.
func CreateStarterConfig(path string) error {
	expandedPath, err := ExpandTilde(path)
	if err != nil {
		return fmt.Errorf("expanding config path: %w", err)
	}

	if _, err := os.Stat(expandedPath); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, expandedPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", expandedPath, err)
	}

	data, err := StarterYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file will hold a token, keep it private.
	if err := os.WriteFile(expandedPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// MaskedYAML renders the effective config with secrets masked.
func MaskedYAML(cfg *types.Config) ([]byte, error) {
	shown := *cfg
	shown.SonarQube.UserToken = redactor.Mask(cfg.SonarQube.UserToken)
	shown.Auth.SecretAccessKey = redactor.Mask(cfg.Auth.SecretAccessKey)
	shown.Auth.SessionToken = redactor.Mask(cfg.Auth.SessionToken)

	data, err := yaml.Marshal(&shown)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}
