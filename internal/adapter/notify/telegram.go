package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/keepsake/internal/config"
	"github.com/semmidev/keepsake/internal/domain"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts backup and rollback outcomes to a chat.
type TelegramNotifier struct {
	bot          sender
	chatID       int64
	onlyFailures bool
}

func NewTelegram(cfg *config.TelegramConfig) (*TelegramNotifier, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramNotifier{bot: bot, chatID: chatID, onlyFailures: cfg.OnlyFailures}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, e domain.Event) error {
	if t.onlyFailures && !isFailure(e.Kind) {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, formatEvent(e))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func isFailure(k domain.EventKind) bool {
	return k == domain.EventBackupFailed || k == domain.EventRollbackFailed
}

func formatEvent(e domain.Event) string {
	at := e.At.Format("2006-01-02 15:04:05")

	switch e.Kind {
	case domain.EventBackupSucceeded:
		return fmt.Sprintf(
			"✅ Backup Created\n\n"+
				"📦 Resource: %s\n"+
				"🆔 Backup: %s\n"+
				"📊 Size: %.2f MB\n"+
				"🕐 Time: %s",
			e.ResourceID, e.BackupID, float64(e.Size)/(1024*1024), at,
		)
	case domain.EventBackupFailed:
		return fmt.Sprintf(
			"❌ Backup Failed\n\n"+
				"📦 Resource: %s\n"+
				"🆔 Backup: %s\n"+
				"⚠️ Cause: %s\n"+
				"🕐 Time: %s",
			e.ResourceID, e.BackupID, e.Cause, at,
		)
	case domain.EventRollbackSucceeded:
		return fmt.Sprintf(
			"⏪ Rollback Completed\n\n"+
				"📦 Resource: %s\n"+
				"🆔 Restored from: %s\n"+
				"🕐 Time: %s",
			e.ResourceID, e.BackupID, at,
		)
	default:
		return fmt.Sprintf(
			"❌ Rollback Failed\n\n"+
				"📦 Resource: %s\n"+
				"🆔 Backup: %s\n"+
				"⚠️ Cause: %s\n"+
				"🕐 Time: %s",
			e.ResourceID, e.BackupID, e.Cause, at,
		)
	}
}
