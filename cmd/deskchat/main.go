package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agencydesk/deskchat/pkg/chat"
	"github.com/agencydesk/deskchat/pkg/notify"
	"github.com/agencydesk/deskchat/pkg/rest"
	"github.com/agencydesk/deskchat/pkg/session"
	"github.com/agencydesk/deskchat/pkg/wire"
)

type options struct {
	profilePath string
	logLevel    string
	logFile     string
	noCache     bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "deskchat",
		Short: "Terminal client for the agency back-office chat and notification feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&opts.profilePath, "profile", defaultProfilePath(), "path to the YAML connection profile")
	rootCmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "zerolog level (trace, debug, info, warn, error)")
	rootCmd.Flags().StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of discarding them")
	rootCmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the local message history cache")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultProfilePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "deskchat", "profile.yaml")
	}
	return "profile.yaml"
}

// setupLogging routes zerolog away from the terminal: the TUI owns the screen,
// so logs go to a file or nowhere.
func setupLogging(opts *options) (io.Closer, error) {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "bad log level %q", opts.logLevel)
	}
	zerolog.SetGlobalLevel(level)

	if opts.logFile == "" {
		log.Logger = zerolog.New(io.Discard)
		return nil, nil
	}
	f, err := os.OpenFile(opts.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %s", opts.logFile)
	}
	if isatty.IsTerminal(f.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: f})
	} else {
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}
	return f, nil
}

// loadSession builds the per-login session from the profile file, with
// environment overrides so a token never has to live on disk.
func loadSession(opts *options) (*session.Session, error) {
	// a local .env is a development convenience, absence is fine
	_ = godotenv.Load()

	var p *session.Profile
	if _, err := os.Stat(opts.profilePath); err == nil {
		p, err = session.LoadProfile(opts.profilePath)
		if err != nil {
			return nil, err
		}
	} else {
		p = &session.Profile{}
	}

	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&p.UserID, "DESKCHAT_USER_ID")
	override(&p.DisplayName, "DESKCHAT_DISPLAY_NAME")
	override(&p.Token, "DESKCHAT_TOKEN")
	override(&p.APIBaseURL, "DESKCHAT_API_URL")
	override(&p.ChatSocketURL, "DESKCHAT_CHAT_SOCKET_URL")
	override(&p.NotifySocketURL, "DESKCHAT_NOTIFY_SOCKET_URL")

	return p.Session()
}

func run(ctx context.Context, opts *options) error {
	closer, err := setupLogging(opts)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	sess, err := loadSession(opts)
	if err != nil {
		return err
	}

	api, err := rest.New(rest.Config{BaseURL: sess.APIBaseURL, Token: sess.Token})
	if err != nil {
		return err
	}

	var cache *chat.HistoryCache
	if !opts.noCache {
		if dir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(dir, "deskchat")
			if err := os.MkdirAll(path, 0o700); err == nil {
				cache, err = chat.NewHistoryCache(filepath.Join(path, "history.db"))
				if err != nil {
					log.Warn().Err(err).Msg("history cache unavailable, continuing without it")
					cache = nil
				}
			}
		}
	}
	if cache != nil {
		defer func() { _ = cache.Close() }()
	}

	client, err := chat.NewClient(chat.Config{Session: sess, API: api, Cache: cache})
	if err != nil {
		return err
	}
	defer client.Close()

	feed, err := notify.NewFeed(notify.Config{
		Session: sess,
		API:     api,
		Alerter: notify.AlerterFunc(func() { fmt.Print("\a") }),
	})
	if err != nil {
		return err
	}
	defer feed.Close()

	m := newModel(sess, client, feed)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// the dispatch hooks push refreshes into the TUI's event loop
	client.SetOnEvent(func(ev wire.Event) { p.Send(refreshMsg{}) })
	feed.SetOnChange(func() { p.Send(refreshMsg{}) })

	if err := client.Start(ctx); err != nil {
		return errors.Wrap(err, "start chat client")
	}
	if err := feed.Start(ctx); err != nil {
		return errors.Wrap(err, "start notification feed")
	}

	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "run terminal ui")
	}
	return nil
}
