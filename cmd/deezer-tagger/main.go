package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"deezer-tagger/internal/api"
	"deezer-tagger/internal/config"
	"deezer-tagger/internal/engine"
	"deezer-tagger/internal/logger"
	"deezer-tagger/internal/server"
	"deezer-tagger/internal/updater"
	"deezer-tagger/internal/version"
)

var (
	// Global flags
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
	flagProxy     string

	flagHost  string
	flagPort  string
	flagLimit int
	flagCheck bool
	flagForce bool
)

// app is what every command needs after configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
}

func main() {
	var rootCmd = &cobra.Command{
		Use:           "deezer-tagger",
		Short:         "Tag MP3 and FLAC files with metadata from Deezer",
		Long:          `Guesses artist and title from file names, searches Deezer and writes title, artist, album, year and cover art into your files. Runs as a web UI or from the command line.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s\n", version.Full()))

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if flagHost != "" {
				a.cfg.Server.Host = flagHost
			}
			if flagPort != "" {
				a.cfg.Server.Port = flagPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(a.engine, a.cfg.Server, a.logger)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				_ = srv.Shutdown(context.Background())
				return err
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	serveCmd.Flags().StringVar(&flagHost, "host", "", "Listen host (default from config)")
	serveCmd.Flags().StringVarP(&flagPort, "port", "P", "", "Listen port (default from config)")

	var searchCmd = &cobra.Command{
		Use:   "search <query...>",
		Short: "Search Deezer for a track",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			if flagLimit > 0 {
				a.engine.SearchLimit = flagLimit
			}

			options, err := a.engine.Search(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(options) == 0 {
				fmt.Fprintln(out, "No results found.")
				return nil
			}
			fmt.Fprintln(out, optionsTable(options))
			return nil
		},
	}
	searchCmd.Flags().IntVarP(&flagLimit, "limit", "l", 0, "Number of results (default from config)")

	var inspectCmd = &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the tags a file currently carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			info, err := a.engine.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), infoTable(args[0], info))
			return nil
		},
	}

	var updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Update to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			return runUpdate(cmd, a)
		},
	}
	updateCmd.Flags().BoolVar(&flagCheck, "check", false, "Only check for a newer release")

	var configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}
	var configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write the default config to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(flagConfig, flagForce); err != nil {
				if errors.Is(err, config.ErrExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", flagConfig)
			return nil
		},
	}
	configInitCmd.Flags().BoolVarP(&flagForce, "force", "f", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd, searchCmd, newTagCmd(), inspectCmd, updateCmd, configCmd)

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: pretty or json")
	rootCmd.PersistentFlags().StringVar(&flagProxy, "proxy", "", "Proxy URL (http/https/socks5), overrides HTTP_PROXY/HTTPS_PROXY env")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the config, applies global flags and builds the logger and engine.
func setup() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	// Priority: Flag > Env > Config file > Defaults
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	if flagProxy != "" {
		cfg.Deezer.Proxy = flagProxy
	}

	log := logger.New(logger.Config{
		Writer: os.Stderr,
		Format: cfg.Log.Format,
		Level:  logger.ParseLevel(cfg.Log.Level),
	})

	client := api.NewClient()
	client.SetBaseURL(cfg.Deezer.BaseURL)
	client.SetTimeout(cfg.Deezer.Timeout.Duration)
	client.SetRateLimit(cfg.Deezer.RateLimit, int(cfg.Deezer.RateLimit))
	if err := client.SetProxy(cfg.Deezer.Proxy); err != nil {
		log.Warn("failed to set proxy", "proxy", cfg.Deezer.Proxy, "error", err)
	}

	eng := engine.New(client, log)
	eng.SearchLimit = cfg.Search.Limit
	eng.SetConcurrency(cfg.Tagging.Concurrency)
	eng.TempDir = cfg.Tagging.TempDir
	eng.FallbackYear = cfg.Tagging.FallbackYear
	if isatty.IsTerminal(os.Stderr.Fd()) {
		eng.Progress = os.Stderr
	}

	return &app{cfg: cfg, logger: log, engine: eng}, nil
}

func runUpdate(cmd *cobra.Command, a *app) error {
	if a.cfg.Update.Repository == "" {
		return fmt.Errorf("%w: set update.repository in %s", updater.ErrNoRepository, flagConfig)
	}

	u := updater.New(a.cfg.Update.Repository)
	u.SetProxy(a.cfg.Deezer.Proxy)

	out := cmd.OutOrStdout()
	res, err := u.CheckForUpdate(cmd.Context())
	if err != nil {
		return err
	}
	if !res.HasUpdate {
		fmt.Fprintf(out, "Already up to date (%s).\n", res.CurrentVersion)
		return nil
	}
	fmt.Fprintf(out, "New version available: %s -> %s\n", res.CurrentVersion, res.LatestVersion)
	if flagCheck {
		fmt.Fprintln(out, res.ReleaseInfo.HTMLURL)
		return nil
	}

	if version.IsDev() {
		a.logger.Warn("replacing a development build")
	}

	asset, err := res.ReleaseInfo.GetPlatformAsset()
	if err != nil {
		return err
	}

	progress := mpb.NewWithContext(cmd.Context(), mpb.WithOutput(a.engine.Progress), mpb.WithWidth(40))
	bar := progress.AddBar(asset.Size,
		mpb.PrependDecorators(decor.Name("Downloading", decor.WCSyncSpaceR)),
		mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
	)
	err = u.DownloadAndApply(cmd.Context(), asset, func(current, total int64) {
		bar.SetTotal(total, false)
		bar.SetCurrent(current)
	})
	bar.SetTotal(-1, true)
	progress.Wait()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Updated to %s. Restart to use the new version.\n", res.LatestVersion)
	return nil
}

// stdinIsTerminal reports whether prompts can be answered.
func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// errCancelled is returned when the user declines every search result.
var errCancelled = errors.New("cancelled")
