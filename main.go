package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/brensch/teamassistant/assistant"
)

const rootLongDesc string = `Run the League of Legends team assistant Discord bot.

Settings are read from an INI file (see config/gen for a template) and may be
overridden with LTA_ environment variables, e.g. LTA_COMMON__PREFIX=?.
The Discord token is read from the DEFAULT.token key of the secrets file.

On first start without a Google token file the bot prints a consent URL and
waits for the browser redirect before connecting to Discord.`

func newRootCmd() *cobra.Command {
	var settingsPath string
	var secretsPath string
	var envFile string

	cmd := &cobra.Command{
		Use:           "teamassistant",
		Short:         "Run the team assistant Discord bot",
		Long:          rootLongDesc,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := assistant.New(ctx, assistant.Options{
				SettingsPath: settingsPath,
				SecretsPath:  secretsPath,
				Console:      cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&settingsPath, "settings", "./settings.ini", "Path to the settings file")
	cmd.Flags().StringVar(&secretsPath, "secrets", "./token.ini", "Path to the secrets file holding the Discord token")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load environment variables from this file (default .env if present)")

	return cmd
}

// loadEnv loads path, or ./.env when path is empty and the file exists.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
