package cogs

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/brensch/teamassistant/cog"
	"github.com/brensch/teamassistant/discord"
)

// Help lists the registered commands, including those of cogs loaded later.
type Help struct {
	host cog.Host
}

func (h *Help) Name() string { return "help" }

func (h *Help) Setup(_ context.Context, c *cog.Context) error {
	h.host = c.Host
	return c.Host.AddCommand(discord.NewCommand("help", "List the available commands", h.handle))
}

func (h *Help) handle(_ context.Context, _ struct{}) (*discordgo.MessageSend, error) {
	var b strings.Builder
	for _, cmd := range h.host.Commands() {
		fmt.Fprintf(&b, "`%s` %s\n", discord.Usage(h.host.Prefix(), cmd), cmd.GetDescription())
		for _, arg := range discord.Arguments(cmd) {
			fmt.Fprintf(&b, "  • %s: %s", arg.Name, arg.Description)
			if len(arg.Choices) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(arg.Choices, ", "))
			}
			b.WriteString("\n")
		}
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "Commands",
			Description: strings.TrimSpace(b.String()),
			Color:       0x0AC8B9,
		}},
	}, nil
}
