package telegram

import (
	"log/slog"

	"mcpchat/pkg/api"
	"mcpchat/pkg/channels"
)

// TelegramFactory 負責建立 Telegram Channel
type TelegramFactory struct{}

// Create 實作 ChannelFactory；未設定 token 時略過此平台
func (f *TelegramFactory) Create(deps channels.Deps) (api.Channel, error) {
	if deps.App == nil || deps.App.TelegramToken == "" {
		slog.Debug("Telegram token not set, channel disabled")
		return nil, nil
	}

	limit := DefaultMessageLimit
	if deps.System != nil && deps.System.TelegramMessageLimit > 0 {
		limit = deps.System.TelegramMessageLimit
	}

	ch, err := NewTelegramChannel(TelegramConfig{Token: deps.App.TelegramToken}, limit)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
