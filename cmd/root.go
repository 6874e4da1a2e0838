package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"

	"github.com/mpeck/notion-backup/internal/config"
	"github.com/mpeck/notion-backup/internal/db"
)

var (
	// Config flags, bound in init()
	cfgFile      string
	baseURL      string
	workDir      string
	dbPath       string
	pollInterval time.Duration
	maxWait      time.Duration
	timeZone     string
	locale       string
	logFormat    string
	logLevel     string
	logOutput    string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	dbConn     *sql.DB
	appConfig  config.Config
)

var rootCmd = &cobra.Command{
	Use:   "notion-backup",
	Short: "Export a workspace and archive it locally in markdown and HTML.",
	Long: `notion-backup submits asynchronous export jobs to the workspace API,
waits for their completion events on the notification feed, downloads the
resulting archives and unpacks them (including nested Part-<n>.zip chunks)
into one backup directory per format.

The primary command is 'run'. The 'state' command inspects the local
DuckDB event log recording what past runs did.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env if present; variables may also be set directly.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load .env: %w", err)
		}

		// --- 1. Initialize logger ---
		var level slog.Level
		switch strings.ToLower(logLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var logWriter io.Writer = os.Stderr
		switch strings.ToLower(logOutput) {
		case "", "stderr":
		case "stdout":
			logWriter = os.Stdout
		default:
			f, err := os.OpenFile(logOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file %s: %w", logOutput, err)
			}
			logWriter = f
		}

		opts := &slog.HandlerOptions{Level: level}
		var handler slog.Handler
		if logFormat == "json" {
			handler = slog.NewJSONHandler(logWriter, opts)
		} else {
			handler = slog.NewTextHandler(logWriter, opts)
		}
		rootLogger = slog.New(handler)
		slog.SetDefault(rootLogger)

		// --- 2. Assemble config: defaults, then file, then changed flags ---
		appConfig = config.Default()
		if cfgFile != "" {
			if err := appConfig.LoadFile(cfgFile); err != nil {
				return err
			}
		}
		flagOverrides := map[string]func(){
			"base-url":      func() { appConfig.BaseURL = baseURL },
			"work-dir":      func() { appConfig.WorkDir = workDir },
			"db-path":       func() { appConfig.DbPath = dbPath },
			"poll-interval": func() { appConfig.PollInterval = pollInterval },
			"max-wait":      func() { appConfig.MaxWait = maxWait },
			"timezone":      func() { appConfig.TimeZone = timeZone },
			"locale":        func() { appConfig.Locale = locale },
		}
		for name, apply := range flagOverrides {
			if cmd.Root().PersistentFlags().Changed(name) {
				apply()
			}
		}
		if err := appConfig.Validate(); err != nil {
			return err
		}
		if err := appConfig.LoadCredentials(); err != nil {
			return err
		}
		if err := os.MkdirAll(appConfig.WorkDir, 0o755); err != nil {
			return fmt.Errorf("failed to create work directory %s: %w", appConfig.WorkDir, err)
		}
		rootLogger.Debug("Configuration loaded.",
			slog.String("work_dir", appConfig.WorkDir),
			slog.Duration("poll_interval", appConfig.PollInterval),
			slog.Duration("max_wait", appConfig.MaxWait))

		// --- 3. Initialize DuckDB connection & schema ---
		if appConfig.DbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(appConfig.DbPath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		var err error
		dbConn, err = sql.Open("duckdb", appConfig.DbPath)
		if err != nil {
			return fmt.Errorf("failed to open duckdb database (%s): %w", appConfig.DbPath, err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err = dbConn.PingContext(pingCtx); err != nil {
			dbConn.Close()
			return fmt.Errorf("failed to ping duckdb database (%s): %w", appConfig.DbPath, err)
		}
		if err := db.InitializeSchema(dbConn); err != nil {
			dbConn.Close()
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
		rootLogger.Debug("State database ready.", slog.String("db_path", appConfig.DbPath))

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if dbConn != nil {
			if err := dbConn.Close(); err != nil {
				rootLogger.Error("Failed to close state database cleanly", "error", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and runs it. Called
// by main.main().
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional YAML config file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", config.DefaultBaseURL, "Workspace API base URL")
	rootCmd.PersistentFlags().StringVarP(&workDir, "work-dir", "w", config.DefaultWorkDir, "Directory for archives and extracted backups")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", config.DefaultDbPath, "Path to DuckDB state database file (:memory: for in-memory)")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", config.DefaultPollInterval, "Interval between notification feed polls")
	rootCmd.PersistentFlags().DurationVar(&maxWait, "max-wait", config.DefaultMaxWait, "Maximum time to wait for an export to complete")
	rootCmd.PersistentFlags().StringVar(&timeZone, "timezone", config.DefaultTimeZone, "Time zone passed to the export request")
	rootCmd.PersistentFlags().StringVar(&locale, "locale", config.DefaultLocale, "Locale passed to the export request")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.3.0"
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}
