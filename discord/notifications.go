package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// announceChannel picks the channel broadcasts go to in a guild: the first
// text channel, taken from the state cache when it has the guild's channels.
func (b *Bot) announceChannel(guild *discordgo.Guild) (string, error) {
	channels := guild.Channels
	if len(channels) == 0 {
		var err error
		channels, err = b.session.GuildChannels(guild.ID)
		if err != nil {
			return "", fmt.Errorf("failed to retrieve channels for guild %s: %w", guild.ID, err)
		}
	}

	for _, channel := range channels {
		if channel.Type == discordgo.ChannelTypeGuildText {
			return channel.ID, nil
		}
	}
	return "", fmt.Errorf("no text channel found in guild %s", guild.ID)
}

// broadcast calls send once per guild the bot is in and returns how many
// guilds were reached. Failures are logged per guild.
func (b *Bot) broadcast(kind string, send func(channelID string) error) int {
	b.session.State.RLock()
	guilds := append([]*discordgo.Guild(nil), b.session.State.Guilds...)
	b.session.State.RUnlock()

	sent := 0
	for _, guild := range guilds {
		channelID, err := b.announceChannel(guild)
		if err != nil {
			b.logger.Error("no channel to broadcast to", "kind", kind, "guild", guild.ID, "error", err)
			continue
		}
		if err := send(channelID); err != nil {
			b.logger.Error("failed to broadcast", "kind", kind, "guild", guild.ID, "channel", channelID, "error", err)
			continue
		}
		sent++
	}

	b.logger.Debug("broadcast finished", "kind", kind, "guilds", len(guilds), "sent", sent)
	return sent
}

// SendEmbed posts embed to every guild the bot is in.
func (b *Bot) SendEmbed(embed *discordgo.MessageEmbed) int {
	return b.broadcast("embed", func(channelID string) error {
		_, err := b.session.ChannelMessageSendEmbed(channelID, embed)
		return err
	})
}
