package action

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen = 4000
	discordMaxMsgLen  = 2000
)

// TelegramSender delivers a text message to a chat.
type TelegramSender interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
}

// DiscordPoster posts a message to a channel and returns its ID.
type DiscordPoster interface {
	PostMessage(ctx context.Context, channelID, content string) (string, error)
}

// TelegramSend is the telegram_send action.
type TelegramSend struct {
	sender      TelegramSender
	defaultChat int64
}

func NewTelegramSend(sender TelegramSender, defaultChat int64) *TelegramSend {
	return &TelegramSend{sender: sender, defaultChat: defaultChat}
}

func (t *TelegramSend) Name() string { return "telegram_send" }

func (t *TelegramSend) Description() string {
	return "Send a Telegram message from the gateway bot."
}

func (t *TelegramSend) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"chat_id": {Type: "string", Description: "Target chat ID; defaults to the configured owner chat"},
			"text":    {Type: "string", Description: "Message text"},
		},
		[]string{"text"},
	)
}

type telegramParams struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text" validate:"required"`
}

func (t *TelegramSend) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var p telegramParams
	if err := decodeParams(normalizeID(params, "chat_id"), &p); err != nil {
		return nil, err
	}
	chatID := t.defaultChat
	if p.ChatID != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(p.ChatID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat_id %q", p.ChatID)
		}
		chatID = id
	}
	if chatID == 0 {
		return nil, fmt.Errorf("missing argument: chat_id")
	}

	text := p.Text
	if len(text) > telegramMaxMsgLen {
		text = text[:telegramMaxMsgLen]
	}
	msgID, err := t.sender.SendText(ctx, chatID, text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chat_id": chatID, "message_id": msgID}, nil
}

// DiscordPost is the discord_post action. Its policy category lets the
// curious mode switch it off independently.
type DiscordPost struct {
	poster         DiscordPoster
	defaultChannel string
}

func NewDiscordPost(poster DiscordPoster, defaultChannel string) *DiscordPost {
	return &DiscordPost{poster: poster, defaultChannel: defaultChannel}
}

func (d *DiscordPost) Name() string { return "discord_post" }

func (d *DiscordPost) Description() string {
	return "Post a message to a Discord channel as the gateway bot."
}

func (d *DiscordPost) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"channel_id": {Type: "string", Description: "Target channel ID; defaults to the configured channel"},
			"content":    {Type: "string", Description: "Message content"},
		},
		[]string{"content"},
	)
}

type discordParams struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content" validate:"required,max=2000"`
}

func (d *DiscordPost) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var p discordParams
	if err := decodeParams(normalizeID(params, "channel_id"), &p); err != nil {
		return nil, err
	}
	channel := p.ChannelID
	if channel == "" {
		channel = d.defaultChannel
	}
	if channel == "" {
		return nil, fmt.Errorf("missing argument: channel_id")
	}
	id, err := d.poster.PostMessage(ctx, channel, p.Content)
	if err != nil {
		return nil, err
	}
	return map[string]any{"channel_id": channel, "message_id": id}, nil
}

// normalizeID turns a numeric JSON id into its string form so callers may
// send either 123 or "123".
func normalizeID(params map[string]any, key string) map[string]any {
	v, ok := params[key]
	if !ok {
		return params
	}
	var s string
	switch n := v.(type) {
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		s = strconv.Itoa(n)
	case int64:
		s = strconv.FormatInt(n, 10)
	default:
		return params
	}
	cp := make(map[string]any, len(params))
	for k, val := range params {
		cp[k] = val
	}
	cp[key] = s
	return cp
}

// TelegramClient adapts a bot API handle to TelegramSender.
type TelegramClient struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramClient authenticates with token.
func NewTelegramClient(token string) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramClient{bot: bot}, nil
}

// WrapTelegramBot reuses an already connected bot.
func WrapTelegramBot(bot *tgbotapi.BotAPI) *TelegramClient {
	return &TelegramClient{bot: bot}
}

func (c *TelegramClient) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sent, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	return sent.MessageID, nil
}

// DiscordClient adapts a REST-only discordgo session to DiscordPoster.
type DiscordClient struct {
	session *discordgo.Session
}

func NewDiscordClient(token string) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordClient{session: session}, nil
}

func (c *DiscordClient) PostMessage(ctx context.Context, channelID, content string) (string, error) {
	if len(content) > discordMaxMsgLen {
		content = content[:discordMaxMsgLen]
	}
	msg, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("discord post: %w", err)
	}
	return msg.ID, nil
}
