package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/brensch/teamassistant/log"
)

// commandTimeout bounds a single command handler.
const commandTimeout = 30 * time.Second

// Bot encapsulates the discordgo session, configuration, registered commands and schedules.
type Bot struct {
	session         *discordgo.Session
	config          BotConfig
	logger          *slog.Logger
	scheduleManager *scheduleManager

	mu       sync.RWMutex
	commands map[string]Command

	ready     chan struct{}
	readyOnce sync.Once
}

// BotConfig contains configuration for the bot.
type BotConfig struct {
	// Prefix starts every command message, e.g. "!".
	Prefix string
	// Intents defaults to discordgo.IntentsAll.
	Intents discordgo.Intent
}

// NewBot creates the session and registers the lifecycle and message
// handlers. Nothing is sent to Discord until Run.
func NewBot(cfg BotConfig, logger *slog.Logger) (*Bot, error) {
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("command prefix is required")
	}
	if cfg.Intents == 0 {
		cfg.Intents = discordgo.IntentsAll
	}
	if logger == nil {
		logger = slog.Default()
	}

	// The token is set by Run, right before connecting.
	dg, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = cfg.Intents
	dg.LogLevel = discordgoLogLevel(logger)

	bot := &Bot{
		session:  dg,
		config:   cfg,
		logger:   logger,
		commands: make(map[string]Command),
		ready:    make(chan struct{}),
	}
	bot.scheduleManager = newScheduleManager(bot)

	dg.AddHandler(bot.onReady)
	dg.AddHandler(bot.onConnect)
	dg.AddHandler(bot.onDisconnect)
	dg.AddHandler(bot.onMessageCreate)

	return bot, nil
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

// Prefix returns the command prefix.
func (b *Bot) Prefix() string {
	return b.config.Prefix
}

// Logger returns the bot's logger.
func (b *Bot) Logger() *slog.Logger {
	return b.logger
}

// AddCommand registers cmd. Names are unique.
func (b *Bot) AddCommand(cmd Command) error {
	name := strings.ToLower(cmd.GetName())
	if name == "" {
		return fmt.Errorf("command name is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.commands[name]; ok {
		return fmt.Errorf("command %q is already registered", name)
	}
	b.commands[name] = cmd
	b.logger.Debug("registered command", "name", name)
	return nil
}

// RemoveCommand unregisters the named command and reports whether it existed.
func (b *Bot) RemoveCommand(name string) bool {
	name = strings.ToLower(name)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.commands[name]; !ok {
		return false
	}
	delete(b.commands, name)
	b.logger.Debug("removed command", "name", name)
	return true
}

// Commands returns the registered commands sorted by name.
func (b *Bot) Commands() []Command {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Command, 0, len(b.commands))
	for _, cmd := range b.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// AddSchedule registers a cron schedule whose results are broadcast as embeds.
func (b *Bot) AddSchedule(s Schedule) error {
	return b.scheduleManager.add(s)
}

// RemoveSchedule unregisters the named schedule and reports whether it existed.
func (b *Bot) RemoveSchedule(name string) bool {
	return b.scheduleManager.remove(name)
}

// WaitReady blocks until the gateway handshake completed, ctx ends or timeout passes.
func (b *Bot) WaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("not ready after %s", timeout)
	}
}

// Run opens the gateway connection with token and blocks until ctx is done,
// then closes the session. Reconnects are handled by discordgo.
func (b *Bot) Run(ctx context.Context, token string) error {
	b.session.Token = "Bot " + token
	b.session.Identify.Token = b.session.Token

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	b.scheduleManager.start()

	<-ctx.Done()

	return b.Close()
}

// Close gracefully closes the Discord session and stops the schedule manager.
func (b *Bot) Close() error {
	b.logger.Info("shutting down bot")
	b.scheduleManager.stop()
	return b.session.Close()
}

// onReady logs the bot identity and releases WaitReady.
func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		b.logger.Info(fmt.Sprintf("Logged in as %s#%s (ID: %s)", r.User.Username, r.User.Discriminator, r.User.ID),
			"name", r.User.Username,
			"discriminator", r.User.Discriminator,
			"id", r.User.ID,
			"guilds", len(r.Guilds))
	}
	b.readyOnce.Do(func() { close(b.ready) })
}

func (b *Bot) onConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	b.logger.Info("Connected to Discord")
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.logger.Info("Disconnected from Discord")
}

// onMessageCreate runs prefix commands, ignoring the bot's own messages.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	name, reply, err := b.dispatch(ctx, m.Content)
	if name == "" {
		return
	}

	if err != nil {
		b.logger.Error("failed to execute command", "command", name, "author_id", m.Author.ID, "error", err)
		reply = &discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Error",
				Description: fmt.Sprintf("```%v```", err),
				Color:       0xFF0000,
			}},
		}
	}
	if reply == nil {
		return
	}

	reply.Reference = m.Reference()
	if _, err := s.ChannelMessageSendComplex(m.ChannelID, reply); err != nil {
		b.logger.Error("failed to respond to command", "command", name, "channel_id", m.ChannelID, "error", err)
	}
}

// dispatch finds and runs the command in content. An empty name means the
// message was not a known command.
func (b *Bot) dispatch(ctx context.Context, content string) (name string, reply *discordgo.MessageSend, err error) {
	if !strings.HasPrefix(content, b.config.Prefix) {
		return "", nil, nil
	}
	fields := strings.Fields(strings.TrimPrefix(content, b.config.Prefix))
	if len(fields) == 0 {
		return "", nil, nil
	}

	name = strings.ToLower(fields[0])
	b.mu.RLock()
	cmd, ok := b.commands[name]
	b.mu.RUnlock()
	if !ok {
		b.logger.Debug("ignoring unknown command", "command", name)
		return "", nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			b.ReportError(errors.Errorf("panic in command %s: %v", name, r))
			reply, err = nil, fmt.Errorf("internal error while running %s", name)
		}
	}()

	reply, err = cmd.HandleMessage(ctx, fields[1:])
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		err = fmt.Errorf("%w\nusage: %s", err, Usage(b.config.Prefix, cmd))
	}
	return name, reply, err
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ReportError logs err at critical level followed by every line of its stack
// trace. It never panics.
func (b *Bot) ReportError(err error) {
	if err == nil {
		return
	}
	if _, ok := err.(stackTracer); !ok {
		err = errors.WithStack(err)
	}

	ctx := context.Background()
	log.Critical(ctx, b.logger, "An internal error occurred:", "error", err)
	for _, line := range strings.Split(fmt.Sprintf("%+v", err), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		log.Critical(ctx, b.logger, line)
	}
}
