package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mcpchat/pkg/api"
	"mcpchat/pkg/llm"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultMessageLimit is the Telegram cap on characters per message.
const DefaultMessageLimit = 4096

// TelegramConfig encapsulates the credentials required to authenticate with
// the Telegram Bot API.
type TelegramConfig struct {
	Token string `json:"token"` // The secret BOT API string provided by @BotFather
}

// botClient is the subset of *tgbotapi.BotAPI the channel relies on.
type botClient interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel is the implementation of api.Channel for the Telegram
// platform. It long-polls for text messages and sends replies split to
// the platform's message size limit.
type TelegramChannel struct {
	bot          botClient
	transport    *http.Transport    // Bot HTTP transport, closed on Stop
	messageLimit int                // Maximum character count per single message bubble
	pollTimeout  int                // Long-poll timeout in seconds
	retryDelay   time.Duration      // Pause after a failed poll
	stopCtx      context.Context    // Context used to forcibly abort the long-polling HTTP request
	stopCancel   context.CancelFunc // Function to trigger the abort
	done         chan struct{}
}

func NewTelegramChannel(cfg TelegramConfig, msgLimit int) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// By tying the DialContext to our stopCtx, active long-polling requests
	// are aborted when Stop() is called, preventing a 409 Conflict on restart.
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
			mergedCtx, mergedCancel := context.WithCancel(dialCtx)
			go func() {
				select {
				case <-ctx.Done():
					mergedCancel()
				case <-mergedCtx.Done():
				}
			}()
			return dialer.DialContext(mergedCtx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	botHTTPClient := &http.Client{
		Timeout:   90 * time.Second,
		Transport: transport,
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	t := newTelegramChannel(ctx, cancel, bot, msgLimit)
	t.transport = transport
	return t, nil
}

func newTelegramChannel(ctx context.Context, cancel context.CancelFunc, bot botClient, msgLimit int) *TelegramChannel {
	if msgLimit <= 0 {
		msgLimit = DefaultMessageLimit
	}
	return &TelegramChannel{
		bot:          bot,
		messageLimit: msgLimit,
		pollTimeout:  60,
		retryDelay:   3 * time.Second,
		stopCtx:      ctx,
		stopCancel:   cancel,
	}
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	t.done = make(chan struct{})
	go t.poll(ctx)
	return nil
}

func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	defer close(t.done)
	offset := 0

	for {
		select {
		case <-t.stopCtx.Done():
			return
		default:
		}

		// GetUpdates instead of GetUpdatesChan keeps the offset under our control
		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = t.pollTimeout

		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			select {
			case <-t.stopCtx.Done():
				return
			case <-time.After(t.retryDelay):
				slog.Debug("Failed to get telegram updates", "error", err)
				continue
			}
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1

			msg := toUnifiedMessage(update)
			if msg == nil {
				continue
			}
			// Each chat turn may take a while; the handler serializes per session
			go ctx.OnMessage(t.ID(), msg)
		}
	}
}

// toUnifiedMessage maps a text update to the internal format, nil for
// anything without text.
func toUnifiedMessage(update tgbotapi.Update) *api.UnifiedMessage {
	m := update.Message
	if m == nil || m.Chat == nil || strings.TrimSpace(m.Text) == "" {
		return nil
	}

	session := api.SessionContext{
		ChannelID: "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		session.UserID = strconv.FormatInt(m.From.ID, 10)
		session.Username = m.From.UserName
	}

	return &api.UnifiedMessage{
		Session: session,
		Content: m.Text,
		Raw:     update,
	}
}

// SendSignal implements the api.SignalingChannel interface
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != llm.BlockTypeThinking {
		return nil
	}
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}
	_, err = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel() // Cancel our custom long-polling loop immediately

	if t.transport != nil {
		t.transport.CloseIdleConnections()
	}
	if t.done != nil {
		select {
		case <-t.done:
		case <-time.After(5 * time.Second):
			slog.Warn("Telegram poller did not stop in time")
		}
	}
	return nil
}

func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for i, chunk := range SplitMessage(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk %d failed: %w", i, err)
		}
	}
	return nil
}

// SplitMessage cuts text into pieces of at most limit runes, preferring
// to break after a newline in the second half of a piece.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	runes := []rune(text)
	if len(runes) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// Stream implements the streaming response protocol for Telegram.
// Telegram has no mid-message streaming, so text and error blocks are
// accumulated and sent once the stream ends.
func (t *TelegramChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var textBuf strings.Builder

	for block := range blocks {
		switch block.Type {
		case llm.BlockTypeText, llm.BlockTypeError:
			textBuf.WriteString(block.Text)
		}
	}

	if textBuf.Len() == 0 {
		return nil
	}
	return t.Send(session, textBuf.String())
}
