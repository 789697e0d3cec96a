package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/13rac1/sqpurge/internal/archive"
	"github.com/13rac1/sqpurge/internal/config"
	"github.com/13rac1/sqpurge/internal/dispatch"
	"github.com/13rac1/sqpurge/internal/doctor"
	"github.com/13rac1/sqpurge/internal/logging"
	"github.com/13rac1/sqpurge/internal/output"
	"github.com/13rac1/sqpurge/internal/sonarqube"
	"github.com/13rac1/sqpurge/internal/types"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var exitFunc = os.Exit

func main() {
	// Ctrl-C cancels the request in flight and skips the remaining actions.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitFunc(1)
	}
}

// options holds every flag value of one command tree.
type options struct {
	configPath string
	envFile    string
	debug      bool

	userToken    string
	sonarqubeURL string
	outputFile   string
	format       string

	action         string
	project        string
	projects       string
	analyzedBefore string
	q              string
	dryRun         bool
	archive        bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     "sqpurge",
		Short:   "Search and delete SonarQube projects",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `sqpurge queries the SonarQube projects API with optional filters and deletes
the matching projects, one at a time or in bulk. With --dryRun only the search
runs: results are written to output.json and printed as name:key lines.`,
		Example: `  sqpurge --action=search --q=legacy
  sqpurge --action=bulk_delete --analyzedBefore=2023-01-01 --dryRun
  sqpurge --action=delete --project=my-old-service`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActions(cmd, opts)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.DefaultPath, "path to config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with SQ_USER_TOKEN / SQ_URL (existing environment wins)")
	pf.BoolVar(&opts.debug, "debug", false, "log debug records, mirrored to stderr")
	pf.StringVar(&opts.userToken, "user_token", "", "SonarQube user token (env SQ_USER_TOKEN)")
	pf.StringVar(&opts.sonarqubeURL, "sonarqube_url", "", "SonarQube base URL (env SQ_URL)")
	pf.StringVar(&opts.outputFile, "output-file", output.DefaultFile, "where search results are written")
	pf.StringVar(&opts.format, "format", output.FormatPlain, "terminal output format: plain or table")

	f := rootCmd.Flags()
	f.StringVar(&opts.action, "action", "", "action(s) to perform, comma-separated: search, delete, bulk_delete")
	f.StringVar(&opts.project, "project", "", "project key (delete)")
	f.StringVar(&opts.projects, "projects", "", "project keys, comma-separated")
	f.StringVar(&opts.analyzedBefore, "analyzedBefore", "", "only projects not analyzed since this date (YYYY-MM-DD)")
	f.StringVar(&opts.q, "q", "", "search query on project name or key")
	f.BoolVar(&opts.dryRun, "dryRun", false, "search only; never delete")
	f.BoolVar(&opts.archive, "archive", false, "upload a report of each action to the archive bucket")
	_ = rootCmd.MarkFlagRequired("action")

	rootCmd.AddCommand(newDoctorCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	return rootCmd
}

func runActions(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logger, closeLog := setupLogging(cmd, cfg, opts.debug)
	defer closeLog()

	if err := config.RequireCredentials(cfg); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Error: user_token and sonarqube_url are required parameters.")
		logger.Error("credentials not resolved", "error", err)
		exitFunc(1)
		return nil
	}

	client := newSonarClient(cfg, logger)

	dopts := []dispatch.Option{
		dispatch.WithOutput(cmd.OutOrStdout()),
		dispatch.WithWarnings(cmd.ErrOrStderr()),
		dispatch.WithOutputFile(cfg.Output.File),
		dispatch.WithFormat(cfg.Output.Format),
		dispatch.WithServer(client.BaseURL()),
		dispatch.WithLogger(logger),
	}
	if opts.archive {
		if a := newArchiver(cmd, cfg, logger); a != nil {
			dopts = append(dopts, dispatch.WithArchiver(a))
		}
	}

	dispatch.New(client, dopts...).Run(cmd.Context(), dispatch.SplitActions(opts.action), dispatch.Params{
		Project:        opts.project,
		Projects:       opts.projects,
		AnalyzedBefore: opts.analyzedBefore,
		Q:              opts.q,
		DryRun:         opts.dryRun,
	})
	return nil
}

// loadConfig resolves settings from flags, environment, dotenv file and config file.
func loadConfig(cmd *cobra.Command, opts *options) (*types.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}

	v, err := config.NewViper(opts.configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", opts.configPath, err)
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command, cfg *types.Config, debug bool) (*slog.Logger, func()) {
	logger, closer, err := logging.New(cfg.Logging, debug, cmd.ErrOrStderr())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: logging disabled: %v\n", err)
		return slog.New(slog.DiscardHandler), func() {}
	}
	return logger, func() { _ = closer.Close() }
}

func newSonarClient(cfg *types.Config, logger *slog.Logger) *sonarqube.Client {
	hc := &http.Client{}
	if cfg.SonarQube.TimeoutSeconds > 0 {
		hc.Timeout = time.Duration(cfg.SonarQube.TimeoutSeconds) * time.Second
	}
	return sonarqube.NewClient(cfg.SonarQube.UserToken, cfg.SonarQube.URL,
		sonarqube.WithHTTPClient(hc),
		sonarqube.WithLogger(logger),
		sonarqube.WithUserAgent("sqpurge/"+version),
	)
}

// newArchiver returns nil, after printing a warning, when archiving is unavailable.
func newArchiver(cmd *cobra.Command, cfg *types.Config, logger *slog.Logger) *archive.Archiver {
	s3Client, err := config.NewArchiveClient(cmd.Context(), cfg)
	if err != nil {
		if errors.Is(err, config.ErrArchiveNotConfigured) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: --archive ignored: archive.bucket is not configured")
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: --archive ignored: creating S3 client: %v\n", err)
		}
		return nil
	}
	return archive.New(s3Client, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
}

func newDoctorCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and connectivity",
		Long: `Checks that credentials resolve, the server URL is valid, the token is accepted
by the server, and the report archive (if configured) is readable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}

			logger, closeLog := setupLogging(cmd, cfg, opts.debug)
			defer closeLog()

			in := doctor.Input{
				Config:      cfg,
				ConfigPath:  opts.configPath,
				ConfigFound: fileExists(opts.configPath),
			}
			if config.RequireCredentials(cfg) == nil {
				in.Server = newSonarClient(cfg, logger)
			}
			if cfg.Archive.Bucket != "" {
				s3Client, err := config.NewArchiveClient(cmd.Context(), cfg)
				if err != nil {
					in.ArchiveErr = err
				} else {
					in.Archive = archive.New(s3Client, cfg.Archive.Bucket, cfg.Archive.Prefix, logger)
				}
			}

			if !doctor.RunChecks(cmd.Context(), cmd.OutOrStdout(), in) {
				exitFunc(1)
			}
			return nil
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CreateStarterConfig(opts.configPath); err != nil {
				return fmt.Errorf("creating starter config: %w", err)
			}
			printWelcomeMessage(cmd.OutOrStdout(), opts.configPath)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			data, err := config.MaskedYAML(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return configCmd
}

func fileExists(path string) bool {
	expanded, err := config.ExpandTilde(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(expanded)
	return err == nil
}

func printWelcomeMessage(w io.Writer, configPath string) {
	fmt.Fprintln(w, "Welcome to sqpurge!")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "A starter configuration file has been created at:\n")
	fmt.Fprintf(w, "  %s\n", configPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Please edit this file and configure:")
	fmt.Fprintln(w, "  1. sonarqube.sonarqube_url - Your SonarQube server")
	fmt.Fprintln(w, "  2. sonarqube.user_token - A user token (or set SQ_USER_TOKEN)")
	fmt.Fprintln(w, "  3. archive.bucket - Optional, for --archive reports")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "After configuration, run:")
	fmt.Fprintln(w, "  sqpurge doctor                        # Validate configuration")
	fmt.Fprintln(w, "  sqpurge --action=search --q=<text>    # Find projects")
	fmt.Fprintln(w, "  sqpurge --action=bulk_delete --dryRun # Preview a bulk delete")
}
