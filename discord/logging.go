package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// RouteLibraryLogs sends discordgo's internal log output to logger.
// discordgo keeps its logger in a package variable, so this affects every session.
func RouteLibraryLogs(logger *slog.Logger) {
	discordgo.Logger = func(msgL, caller int, format string, a ...interface{}) {
		logger.Log(context.Background(), discordgoLevel(msgL), fmt.Sprintf(format, a...), "source", "discordgo")
	}
}

func discordgoLevel(msgL int) slog.Level {
	switch msgL {
	case discordgo.LogError:
		return slog.LevelError
	case discordgo.LogWarning:
		return slog.LevelWarn
	case discordgo.LogInformational:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// discordgoLogLevel picks the session log level matching what logger emits.
func discordgoLogLevel(logger *slog.Logger) int {
	ctx := context.Background()
	switch {
	case logger.Enabled(ctx, slog.LevelDebug):
		return discordgo.LogDebug
	case logger.Enabled(ctx, slog.LevelInfo):
		return discordgo.LogInformational
	case logger.Enabled(ctx, slog.LevelWarn):
		return discordgo.LogWarning
	default:
		return discordgo.LogError
	}
}
