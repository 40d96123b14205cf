// Package assistant wires settings, logging, Google credentials, the Discord
// session and the cogs into the running team assistant.
package assistant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/brensch/teamassistant/cog"
	"github.com/brensch/teamassistant/cogs"
	"github.com/brensch/teamassistant/config"
	"github.com/brensch/teamassistant/credentials"
	"github.com/brensch/teamassistant/discord"
	"github.com/brensch/teamassistant/log"
	"github.com/brensch/teamassistant/sheets"
)

// ReadyTimeout bounds how long cog loading waits for the gateway handshake.
const ReadyTimeout = 30 * time.Second

// Options locate the files the assistant starts from.
type Options struct {
	SettingsPath string
	SecretsPath  string

	// LogOutput overrides the log destination from the settings file.
	LogOutput io.Writer
	// Console receives the Google consent URL. Defaults to stdout.
	Console io.Writer
	// Registry holds the cogs that may be loaded. Defaults to the built-in cogs.
	Registry *cog.Registry
}

// Assistant is the bot process. Build it with New and start it with Run.
type Assistant struct {
	settings    *config.Settings
	logger      *slog.Logger
	logCloser   io.Closer
	bot         *discord.Bot
	sheets      sheets.ValuesReader
	registry    *cog.Registry
	secretsPath string

	readyTimeout time.Duration
}

// New loads the settings, sets up logging from them, creates the Discord
// session and acquires Google credentials. It may block on the interactive
// consent flow when no usable token file exists.
func New(ctx context.Context, opts Options) (*Assistant, error) {
	settingsPath, err := filepath.Abs(opts.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path %s: %w", opts.SettingsPath, err)
	}

	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := log.New(log.Options{
		Level:    settings.Logging.Level,
		Format:   settings.Logging.Format,
		TimeZone: settings.Logging.TimeZone,
		File:     settings.Logging.File,
		Name:     settings.Logging.Name,
	}, opts.LogOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	slog.SetDefault(logger)
	discord.RouteLibraryLogs(logger)

	logger.Info("Loading settings located at " + settings.Path())

	a := &Assistant{
		settings:     settings,
		logger:       logger,
		logCloser:    logCloser,
		registry:     opts.Registry,
		secretsPath:  opts.SecretsPath,
		readyTimeout: ReadyTimeout,
	}
	if a.registry == nil {
		a.registry = cog.NewRegistry()
		if err := cogs.Register(a.registry, settings.Common.Namespace); err != nil {
			_ = logCloser.Close()
			return nil, err
		}
	}

	a.bot, err = discord.NewBot(discord.BotConfig{Prefix: settings.Common.Prefix}, logger)
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	client, err := a.connectSheets(ctx, opts.Console)
	if err != nil {
		_ = logCloser.Close()
		return nil, err
	}
	a.sheets = client

	return a, nil
}

// connectSheets acquires credentials and builds the Sheets client from them.
func (a *Assistant) connectSheets(ctx context.Context, console io.Writer) (*sheets.Client, error) {
	google := a.settings.GoogleAPI

	store := credentials.NewStore(google.Token)
	flow := &credentials.LocalServerFlow{
		SecretsFile: google.Credentials,
		Scopes:      google.Scopes,
		Out:         console,
		Logger:      a.logger,
	}
	manager := credentials.NewManager(store, credentials.OAuthRefresher{}, flow, a.logger)

	creds, err := manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	client, err := sheets.NewClient(ctx, manager.TokenSource(ctx, creds), google.SpreadsheetID)
	if err != nil {
		return nil, err
	}
	if google.SpreadsheetID == "" {
		a.logger.Warn("google_api.spreadsheet_id is not set, sheet commands will fail")
	}
	return client, nil
}

// Bot returns the Discord bot.
func (a *Assistant) Bot() *discord.Bot {
	return a.bot
}

// Run starts cog loading in the background, reads the secret token and runs
// the Discord session until ctx is done.
func (a *Assistant) Run(ctx context.Context) error {
	defer a.logCloser.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.loadExtensions(runCtx)

	token, err := config.LoadSecretToken(a.secretsPath)
	if err != nil {
		return err
	}

	return a.bot.Run(runCtx, token)
}

// loadExtensions waits for the session to become ready, then loads every cog
// found in the extensions directory. Failures are reported, never returned.
func (a *Assistant) loadExtensions(ctx context.Context) []cog.Result {
	if err := a.bot.WaitReady(ctx, a.readyTimeout); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("Bot was not ready in time, loading extensions anyway", "error", err)
	}

	loader := cog.NewLoader(a.registry, cog.LoaderConfig{
		Dir:       a.settings.Common.Extensions,
		Namespace: a.settings.Common.Namespace,
		Host:      a.bot,
		Settings:  a.settings,
		Sheets:    a.sheets,
		Logger:    a.logger,
		OnError:   a.bot.ReportError,
	})

	results, err := loader.LoadAll(ctx)
	if err != nil {
		a.logger.Error("failed to load extensions", "error", err)
		a.bot.ReportError(err)
		return nil
	}

	counts := map[cog.Status]int{}
	for _, res := range results {
		counts[res.Status]++
	}
	a.logger.Info("extensions loaded",
		"loaded", counts[cog.StatusLoaded],
		"skipped", counts[cog.StatusSkipped],
		"failed", counts[cog.StatusFailed])

	return results
}
