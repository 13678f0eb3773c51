package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"portalcal/internal/config"
	appLog "portalcal/internal/log"
	"portalcal/internal/model"
	"portalcal/internal/reconcile"
	"portalcal/internal/remote"
	"portalcal/internal/session"
	"portalcal/internal/store"
)

const version = "0.1.0"

// flagConfig holds CLI flag values applied on top of the loaded config.
type flagConfig struct {
	configPath string
	listen     string
	backend    string
	logLevel   string
}

type app struct {
	flags flagConfig
	cfg   *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "portalcal",
		Short:         "Student portal calendar and announcement sync",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "./portalcal.yaml", "Path to config file")
	pf.StringVar(&a.flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pf.StringVar(&a.flags.backend, "backend", "", "Backend base URL (overrides config if set)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(a),
		newOnceCmd(a),
		newEventCmd(a),
		newExportCmd(a),
	)
	return root
}

// loadConfig resolves config with precedence flags > env > file > defaults.
func (a *app) loadConfig() error {
	conf, err := config.Load(a.flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", a.flags.configPath)
		return err
	}
	if a.flags.listen != "" {
		conf.Listen = a.flags.listen
	}
	if a.flags.backend != "" {
		conf.Backend.BaseURL = a.flags.backend
	}
	if a.flags.logLevel != "" {
		conf.LogLevel = a.flags.logLevel
	}
	appLog.Configure(appLog.ParseLevel(conf.LogLevel), conf.LogFormat)

	appLog.Debug("effective config",
		"listen", conf.Listen,
		"backend", conf.Backend.BaseURL,
		"store_driver", conf.Store.Driver,
		"store_path", conf.Store.Path,
		"poll_interval", conf.PollInterval.String(),
		"fetch_timeout", conf.FetchTimeout.String(),
		"timezone", conf.Timezone,
		"change_detection", conf.ChangeDetection,
	)
	a.cfg = conf
	return nil
}

// openSession wires the store, backend client and session. Offline sessions
// never reach the backend and are used by commands that only touch the
// local snapshot.
func (a *app) openSession(offline bool) (*session.Session, error) {
	st, err := store.Open(a.cfg.Store.Driver, a.cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var fetcher session.Fetcher = offlineFetcher{}
	if !offline {
		if err := a.cfg.Validate(); err != nil {
			st.Close()
			return nil, err
		}
		client, err := remote.New(remote.Options{
			BaseURL:           a.cfg.Backend.BaseURL,
			Token:             a.cfg.Backend.Token,
			EventsPath:        a.cfg.Backend.EventsPath,
			AnnouncementsPath: a.cfg.Backend.AnnouncementsPath,
			Timeout:           a.cfg.FetchTimeout,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
		fetcher = client
	}

	return session.New(fetcher, st, session.Options{
		PollInterval:    a.cfg.PollInterval,
		FetchTimeout:    a.cfg.FetchTimeout,
		TombstoneTTL:    a.cfg.TombstoneTTL,
		ChangeDetection: a.cfg.ChangeDetection,
	}), nil
}

var errOffline = errors.New("backend not configured for this command")

type offlineFetcher struct{}

func (offlineFetcher) FetchEvents(context.Context) ([]model.Event, error) {
	return nil, errOffline
}

func (offlineFetcher) FetchAnnouncements(context.Context) (reconcile.RemoteAnnouncements, error) {
	return reconcile.RemoteAnnouncements{}, errOffline
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		appLog.Debug("shutdown signal received")
	}()
	return ctx, cancel
}
