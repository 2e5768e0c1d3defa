package channel

import (
	"encoding/json"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func mustMessage(t *testing.T, raw string) *tgbotapi.Message {
	t.Helper()
	var m tgbotapi.Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return &m
}
