package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signalrelay/internal/channel"

	"github.com/spf13/cobra"
)

func chatIDCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "chatid",
		Short: "Reply with the chat id of every message sent to the bot",
		Long: `Runs the bot in discovery mode: any chat that messages the bot (or a group
it is added to) gets a reply with its numeric id. Posts in channels where the
bot is an administrator are logged. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				token = cfg.Telegram.Token
			}
			if token == "" {
				return errors.New("no bot token: set telegram.token, BOT_TOKEN or --token")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tg, err := channel.NewTelegram(channel.TelegramConfig{Token: token, Logger: logger})
			if err != nil {
				return err
			}
			fmt.Printf("Send any message to @%s to see its chat id.\n", tg.Username())
			return tg.ServeChatIDs(ctx)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bot token (default: from config or BOT_TOKEN)")
	return cmd
}
