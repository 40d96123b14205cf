// Package cog defines plugins ("cogs") that register commands and schedules
// with the bot, and the registry and loader that bring them up after ready.
package cog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/brensch/teamassistant/config"
	"github.com/brensch/teamassistant/discord"
	"github.com/brensch/teamassistant/sheets"
)

// Host is the part of the bot a cog may touch.
type Host interface {
	AddCommand(cmd discord.Command) error
	AddSchedule(s discord.Schedule) error
	RemoveCommand(name string) bool
	RemoveSchedule(name string) bool
	Commands() []discord.Command
	Prefix() string
	Session() *discordgo.Session
}

// Cog is a self-contained plugin. Setup registers its commands and schedules.
type Cog interface {
	Name() string
	Setup(ctx context.Context, c *Context) error
}

// Factory builds a fresh Cog.
type Factory func() Cog

// Context carries everything a cog needs during Setup.
type Context struct {
	// ID is the qualified identifier, e.g. "cogs.sheet".
	ID       string
	Host     Host
	Settings *config.Settings
	Sheets   sheets.ValuesReader
	// Options is the [options] table of the cog's manifest.
	Options map[string]any
	Logger  *slog.Logger
}

// StringOption returns the manifest option key. A missing key yields "".
func (c *Context) StringOption(key string) (string, error) {
	v, ok := c.Options[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("option %s of %s must be a string, got %T", key, c.ID, v)
	}
	return s, nil
}
