// Package types defines the core data structures used throughout sqpurge.
// This includes configuration structs, project metadata, and shared types.
package types

import (
	"bytes"
	"encoding/json"
)

// Config represents the complete configuration for sqpurge.
type Config struct {
	SonarQube SonarQubeConfig `yaml:"sonarqube" mapstructure:"sonarqube"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Archive   ArchiveConfig   `yaml:"archive" mapstructure:"archive"`
	Auth      AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// SonarQubeConfig holds the server credentials.
type SonarQubeConfig struct {
	UserToken      string `yaml:"user_token" mapstructure:"user_token"`
	URL            string `yaml:"sonarqube_url" mapstructure:"sonarqube_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
}

// OutputConfig controls where search results are written and how they are printed.
type OutputConfig struct {
	File   string `yaml:"file" mapstructure:"file"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ArchiveConfig holds S3-compatible storage settings for report archival.
type ArchiveConfig struct {
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	Prefix         string `yaml:"prefix" mapstructure:"prefix"`
	Region         string `yaml:"region" mapstructure:"region"`
	Endpoint       string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
}

// AuthConfig holds AWS credentials for the archive bucket.
type AuthConfig struct {
	Profile         string `yaml:"profile,omitempty" mapstructure:"profile"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	SessionToken    string `yaml:"session_token,omitempty" mapstructure:"session_token"`
}

// LoggingConfig holds structured log settings.
type LoggingConfig struct {
	Level    string `yaml:"level" mapstructure:"level"`
	File     string `yaml:"file" mapstructure:"file"`
	MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
	MaxFiles int    `yaml:"max_files" mapstructure:"max_files"`
}

// Project is a SonarQube component as returned by api/projects/search.
// The raw server object is kept so it can be written back out unchanged.
type Project struct {
	Key              string `json:"key"`
	Name             string `json:"name"`
	Qualifier        string `json:"qualifier,omitempty"`
	Visibility       string `json:"visibility,omitempty"`
	LastAnalysisDate string `json:"lastAnalysisDate,omitempty"`
	Revision         string `json:"revision,omitempty"`

	raw json.RawMessage
}

// projectFields avoids recursion in the custom (un)marshalers.
type projectFields Project

// UnmarshalJSON decodes the known fields and retains the original bytes.
func (p *Project) UnmarshalJSON(data []byte) error {
	var f projectFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = Project(f)
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON emits the server object verbatim when one was decoded,
// otherwise the known fields.
func (p Project) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(projectFields(p)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
