package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"agentgate/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramConfirmTimeout = 120 * time.Second
	telegramMaxSendRetries = 3
	telegramMaxResultLen   = 3500
)

// telegramAPI is the subset of *tgbotapi.BotAPI the bridge uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// pendingConfirm is a request parked until its owner taps Allow or Deny.
type pendingConfirm struct {
	req     domain.ActionRequest
	userID  int64
	expires time.Time
}

// Telegram bridges chat commands to the gateway. Requests that need
// confirmation get an inline Allow/Deny keyboard; Allow resubmits the same
// request with confirmed=true, so the full policy runs again.
type Telegram struct {
	token     string
	allowFrom []int64 // empty denies everyone
	gw        Gateway

	bot    *tgbotapi.BotAPI
	api    telegramAPI
	logger *slog.Logger
	now    func() time.Time

	pending   map[string]pendingConfirm
	pendingMu sync.Mutex
	wg        sync.WaitGroup
}

type TelegramConfig struct {
	Token     string
	Bot       *tgbotapi.BotAPI // optional; shared with the telegram_send action
	AllowFrom []string         // User IDs as strings
	Logger    *slog.Logger
}

func NewTelegram(gw Gateway, cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		gw:        gw,
		bot:       cfg.Bot,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]pendingConfirm),
	}
	if cfg.Bot != nil {
		t.api = cfg.Bot
	}
	return t
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
// Each update is handled on its own goroutine so a long action does not
// stall the poll loop.
func (t *Telegram) Start(ctx context.Context) error {
	if t.bot == nil {
		bot, err := tgbotapi.NewBotAPI(t.token)
		if err != nil {
			return fmt.Errorf("telegram bot init: %w", err)
		}
		t.bot = bot
		t.api = bot
	}
	t.logger.Info("telegram bot connected",
		"username", t.bot.Self.UserName,
		"id", t.bot.Self.ID,
		"allowed_users", len(t.allowFrom),
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			t.wg.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				t.wg.Wait()
				return nil
			}
			t.wg.Add(1)
			go func() {
				defer t.wg.Done()
				t.handleUpdate(ctx, update)
			}()
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if !update.Message.IsCommand() {
		t.sendMessage(chatID, "Send /help for the list of commands.")
		return
	}
	t.handleCommand(ctx, userID, chatID, update.Message.Command(), strings.TrimSpace(update.Message.CommandArguments()))
}

func (t *Telegram) handleCommand(ctx context.Context, userID, chatID int64, cmd, args string) {
	switch cmd {
	case "start", "help":
		t.sendMessage(chatID, "agentgate\n\n"+
			"/run <action> [json params] - run a whitelisted action\n"+
			"/check <action> [json params] - dry-run the policy\n"+
			"/sh <command> - shorthand for shell_exec\n"+
			"/mode <normal|fairplay|curious> - switch safety mode\n"+
			"/actions - list whitelisted actions\n"+
			"/status - show gateway status")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("🟢 agentgate\n\nMode: %s\nYour ID: %d\nChat ID: %d", t.gw.Mode(), userID, chatID))
	case "actions":
		t.sendMessage(chatID, formatActions(t.gw.Actions()))
	case "mode":
		if args == "" {
			t.sendMessage(chatID, fmt.Sprintf("Current mode: %s", t.gw.Mode()))
			return
		}
		t.submit(ctx, userID, chatID, t.request(userID, "set_safety_mode", map[string]any{"mode": args}))
	case "sh":
		if args == "" {
			t.sendMessage(chatID, "Usage: /sh <command>")
			return
		}
		t.submit(ctx, userID, chatID, t.request(userID, "shell_exec", map[string]any{"command": args}))
	case "run", "check":
		name, params, err := parseRunArgs(args)
		if err != nil {
			t.sendMessage(chatID, "⚠️ "+err.Error())
			return
		}
		req := t.request(userID, name, params)
		if cmd == "check" {
			t.sendMessage(chatID, formatDecision(name, t.gw.Evaluate(req)))
			return
		}
		t.submit(ctx, userID, chatID, req)
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) request(userID int64, name string, params map[string]any) domain.ActionRequest {
	return domain.ActionRequest{
		ActionName: name,
		Params:     params,
		ActorID:    "telegram:" + strconv.FormatInt(userID, 10),
		Source:     "telegram",
	}
}

// submit runs req and reports the outcome. A confirmation response parks
// the request and shows the Allow/Deny keyboard.
func (t *Telegram) submit(ctx context.Context, userID, chatID int64, req domain.ActionRequest) {
	t.logger.Info("telegram action request", "user_id", userID, "action", req.ActionName, "confirmed", req.Confirmed)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.api.Request(typing)

	resp := t.gw.Handle(ctx, req)
	if !resp.RequiresConfirmation {
		t.sendMessage(chatID, formatResponse(req.ActionName, resp))
		return
	}

	id := t.park(req, userID)
	msg := tgbotapi.NewMessage(chatID, "🔐 Confirmation required\n\n"+resp.Info)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Allow", "ok:"+id),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", "no:"+id),
		),
	)
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("send confirmation prompt", "err", err)
		t.take(id)
	}
}

func (t *Telegram) park(req domain.ActionRequest, userID int64) string {
	id := uuid.NewString()
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	now := t.now()
	for k, p := range t.pending {
		if now.After(p.expires) {
			delete(t.pending, k)
		}
	}
	t.pending[id] = pendingConfirm{req: req, userID: userID, expires: now.Add(telegramConfirmTimeout)}
	return id
}

func (t *Telegram) take(id string) (pendingConfirm, bool) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return p, ok
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	_, _ = t.api.Request(tgbotapi.NewCallback(cq.ID, ""))

	verb, id, ok := strings.Cut(cq.Data, ":")
	if !ok || (verb != "ok" && verb != "no") {
		return
	}

	t.pendingMu.Lock()
	p, found := t.pending[id]
	owner := found && p.userID == cq.From.ID
	if owner {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()

	switch {
	case !found:
		t.sendMessage(chatID, "⏰ Confirmation expired or already handled.")
		return
	case !owner:
		t.logger.Warn("confirmation from a different user ignored", "user_id", cq.From.ID, "owner", p.userID)
		return
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.api.Send(edit)

	if t.now().After(p.expires) {
		t.sendMessage(chatID, "⏰ Confirmation timed out. Action not run.")
		return
	}
	if verb == "no" {
		t.sendMessage(chatID, "❌ Action denied.")
		return
	}

	p.req.Confirmed = true
	t.submit(ctx, cq.From.ID, chatID, p.req)
}

func (t *Telegram) isAllowed(userID int64) bool {
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// parseRunArgs splits "<action> [json]" into a name and params.
func parseRunArgs(args string) (string, map[string]any, error) {
	name, rest, _ := strings.Cut(args, " ")
	if name == "" {
		return "", nil, fmt.Errorf("usage: /run <action> [json params]")
	}
	params := map[string]any{}
	if rest = strings.TrimSpace(rest); rest != "" {
		if err := json.Unmarshal([]byte(rest), &params); err != nil {
			return "", nil, fmt.Errorf("params must be a JSON object: %v", err)
		}
	}
	return name, params, nil
}

func formatResponse(action string, resp domain.Response) string {
	if resp.Success {
		var result string
		switch v := resp.Result.(type) {
		case nil:
		case string:
			result = v
		default:
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				result = fmt.Sprint(v)
			} else {
				result = string(data)
			}
		}
		if len(result) > telegramMaxResultLen {
			result = result[:runeCut(result, telegramMaxResultLen)] + "\n... (truncated)"
		}
		out := fmt.Sprintf("✅ %s (%.2fs)", action, resp.ExecutionTime)
		if result != "" {
			out += "\n\n" + result
		}
		return out
	}

	switch resp.Reason {
	case domain.ReasonTimeout:
		return "⏱ " + resp.Error
	case domain.ReasonAction:
		return fmt.Sprintf("❌ %s failed: %s", action, resp.Error)
	case domain.ReasonInternal:
		return "💥 Internal error: " + resp.Error
	default:
		return fmt.Sprintf("⛔ Denied (%s): %s", resp.Reason, resp.Error)
	}
}

func formatDecision(action string, d domain.Decision) string {
	switch {
	case d.Allowed:
		return fmt.Sprintf("✅ %s would run (timeout %s)", action, d.Timeout)
	case d.Outcome == domain.OutcomeConfirmationRequired:
		return fmt.Sprintf("🔐 %s needs confirmation\n\n%s", action, d.Info)
	default:
		return fmt.Sprintf("⛔ %s: %s", d.Outcome, d.Detail)
	}
}

func formatActions(defs []domain.ActionDefinition) string {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	var sb strings.Builder
	sb.WriteString("Whitelisted actions:\n")
	for _, d := range defs {
		marker := ""
		if d.RequiresConfirmation {
			marker = " 🔐"
		}
		fmt.Fprintf(&sb, "\n• %s%s", d.Name, marker)
	}
	return sb.String()
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk, backing off on rate limits and
// transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}

		if attempt == telegramMaxSendRetries {
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
			return
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(err.Error(), "Too Many Requests") || strings.Contains(err.Error(), "429") {
			backoff *= 3
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		time.Sleep(backoff)
	}
}

// runeCut returns the largest offset <= n that does not split a UTF-8
// sequence in s. A single rune wider than n is kept whole.
func runeCut(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	i := n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	if i == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return i
}

// splitMessage splits a message into chunks that fit within maxLen,
// preferring newline boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		limit := runeCut(msg, maxLen)
		cutAt := strings.LastIndex(msg[:limit], "\n")
		if cutAt < limit/2 {
			cutAt = strings.LastIndex(msg[:limit], " ")
		}
		if cutAt <= 0 {
			cutAt = limit
		}
		chunks = append(chunks, msg[:cutAt])
		msg = strings.TrimLeft(msg[cutAt:], "\n ")
	}
	return chunks
}
