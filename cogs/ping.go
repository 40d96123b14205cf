package cogs

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/brensch/teamassistant/cog"
	"github.com/brensch/teamassistant/discord"
)

// Ping answers with the gateway heartbeat latency.
type Ping struct {
	host cog.Host
}

func (p *Ping) Name() string { return "ping" }

func (p *Ping) Setup(_ context.Context, c *cog.Context) error {
	p.host = c.Host
	return c.Host.AddCommand(discord.NewCommand("ping", "Check that the bot is alive", p.handle))
}

func (p *Ping) handle(_ context.Context, _ struct{}) (*discordgo.MessageSend, error) {
	s := p.host.Session()
	if s == nil || s.LastHeartbeatAck.IsZero() {
		return discord.TextReply("Pong!"), nil
	}
	return discord.TextReply(fmt.Sprintf("Pong! %dms", s.HeartbeatLatency().Milliseconds())), nil
}
