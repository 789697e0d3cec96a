package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/13rac1/sqpurge/internal/output"
	"github.com/13rac1/sqpurge/internal/types"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultPath is where the config file is looked up when --config is not given.
	DefaultPath = "~/.sqpurge/config.yaml"

	// Environment variables that supply the server credentials.
	EnvUserToken = "SQ_USER_TOKEN"
	EnvURL       = "SQ_URL"

	// Config keys for the server credentials.
	KeyUserToken = "sonarqube.user_token"
	KeyURL       = "sonarqube.sonarqube_url"

	defaultLogFile       = "~/.sqpurge/sqpurge.log"
	defaultLogLevel      = "warn"
	defaultLogMaxSize    = 10
	defaultLogMaxFiles   = 5
	defaultArchivePrefix = "sqpurge/"
)

// ErrMissingCredentials is returned when the user token or server URL could
// not be resolved from flags, environment or config file.
var ErrMissingCredentials = errors.New("user_token and sonarqube_url are required parameters")

// flagBindings maps config keys to the command-line flags that override them.
var flagBindings = map[string]string{
	KeyUserToken:    "user_token",
	KeyURL:          "sonarqube_url",
	"output.file":   "output-file",
	"output.format": "format",
}

var envBindings = map[string]string{
	KeyUserToken: EnvUserToken,
	KeyURL:       EnvURL,
}

// NewViper builds the layered settings store: flags override the environment,
// which overrides the config file at path. A missing config file is not an error.
// Flags absent from the set are skipped.
func NewViper(path string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("output.file", output.DefaultFile)
	v.SetDefault("output.format", output.FormatPlain)
	v.SetDefault("archive.prefix", defaultArchivePrefix)
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.file", defaultLogFile)
	v.SetDefault("logging.max_size", defaultLogMaxSize)
	v.SetDefault("logging.max_files", defaultLogMaxFiles)

	if flags != nil {
		for key, name := range flagBindings {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding env %s: %w", env, err)
		}
	}

	if path == "" {
		return v, nil
	}

	expandedPath, err := ExpandTilde(path)
	if err != nil {
		return nil, fmt.Errorf("expanding config path: %w", err)
	}

	v.SetConfigFile(expandedPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", expandedPath, err)
	}

	return v, nil
}

// Load decodes the resolved settings, applies defaults and validates them.
// Credentials may still be empty; see RequireCredentials.
func Load(v *viper.Viper) (*types.Config, error) {
	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Bound flags and env vars are only visible through Get.
	cfg.SonarQube.UserToken = v.GetString(KeyUserToken)
	cfg.SonarQube.URL = v.GetString(KeyURL)
	cfg.Output.File = v.GetString("output.file")
	cfg.Output.Format = v.GetString("output.format")

	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// RequireCredentials returns ErrMissingCredentials unless both the token and
// the server URL are set.
func RequireCredentials(cfg *types.Config) error {
	if cfg.SonarQube.UserToken == "" || cfg.SonarQube.URL == "" {
		return ErrMissingCredentials
	}
	return nil
}

// LoadDotEnv copies variables from a dotenv file into the process environment.
// Variables already set are left alone. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}

	expandedPath, err := ExpandTilde(path)
	if err != nil {
		return fmt.Errorf("expanding env file path: %w", err)
	}

	if err := godotenv.Load(expandedPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", expandedPath, err)
	}
	return nil
}

// applyDefaults fills optional fields the store left empty.
func applyDefaults(cfg *types.Config) error {
	if cfg.Output.File == "" {
		cfg.Output.File = output.DefaultFile
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = output.FormatPlain
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.File == "" {
		cfg.Logging.File = defaultLogFile
	}
	logFile, err := ExpandTilde(cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("expanding logging.file: %w", err)
	}
	cfg.Logging.File = logFile
	if cfg.Logging.MaxSize <= 0 {
		cfg.Logging.MaxSize = defaultLogMaxSize
	}
	if cfg.Logging.MaxFiles <= 0 {
		cfg.Logging.MaxFiles = defaultLogMaxFiles
	}

	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}

	// Ensure prefix has trailing slash for consistent key building
	if !strings.HasSuffix(cfg.Archive.Prefix, "/") {
		cfg.Archive.Prefix = cfg.Archive.Prefix + "/"
	}

	return nil
}

func validate(cfg *types.Config) error {
	if !output.ValidFormat(cfg.Output.Format) {
		return fmt.Errorf("output.format must be %q or %q, got %q",
			output.FormatPlain, output.FormatTable, cfg.Output.Format)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)
	}

	if cfg.SonarQube.TimeoutSeconds < 0 {
		return fmt.Errorf("sonarqube.timeout_seconds must not be negative")
	}

	if cfg.Archive.Bucket != "" && cfg.Archive.Region == "" {
		return fmt.Errorf("archive.region is required when archive.bucket is set")
	}

	return nil
}

// ExpandTilde replaces ~ at the start of a path with the user's home directory.
func ExpandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	if path == "~" {
		return homeDir, nil
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:]), nil
	}

	return path, nil
}
