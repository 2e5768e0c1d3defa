package channel

import (
	"context"
	"fmt"
)

// ServeChatIDs answers every message the bot sees with the id of the chat it
// came from, so operators can find values for the source and destination
// settings. Channel posts are logged instead of answered.
func (t *Telegram) ServeChatIDs(ctx context.Context) error {
	t.logger.Info("waiting for messages; send any message to the bot or add it to a chat", "bot", "@"+t.Username())

	offset := 0
	for {
		updates, err := t.poll(ctx, offset)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getUpdates: %w", classifyError(err))
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			switch {
			case upd.Message != nil && upd.Message.Chat != nil:
				chat := upd.Message.Chat
				t.logger.Info("chat seen", "chat_id", chat.ID, "type", chat.Type, "title", chat.Title)
				t.Notify(ctx, chat.ID, fmt.Sprintf("Chat ID: %d", chat.ID))
			case upd.ChannelPost != nil && upd.ChannelPost.Chat != nil:
				chat := upd.ChannelPost.Chat
				t.logger.Info("channel seen", "chat_id", chat.ID, "title", chat.Title)
			}
		}
	}
}
