// Package bot is the Telegram administration surface of the engine. It
// exposes the kill switches, rate caps, approval queue and intake sources to
// allow-listed operators, and delivers alerts to the operations chat.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mmcdole/gofeed"

	"postgate/internal/config"
	"postgate/internal/model"
	"postgate/internal/publish"
	"postgate/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Controls reads and writes the kill switches and rate caps.
type Controls interface {
	GetSettings(ctx context.Context) model.PostingSettings
	SetPaused(ctx context.Context, paused bool, actor, reason string) (model.PostingSettings, error)
	Platforms(ctx context.Context) (model.PlatformSettings, error)
	SetPlatformEnabled(ctx context.Context, p model.Platform, enabled bool, actor string) error
	GetCaps(ctx context.Context) (*model.CapConfig, error)
	PutCaps(ctx context.Context, cfg model.CapConfig) error
	SetPlatformCaps(ctx context.Context, p model.Platform, caps model.PlatformCaps) error
}

// Limiter resets the error-rate breaker.
type Limiter interface {
	ResetPlatformErrorCount(ctx context.Context, p model.Platform, actor string) (model.PlatformState, error)
}

// Content runs lifecycle transitions.
type Content interface {
	Get(ctx context.Context, id string) (*model.ContentItem, error)
	List(ctx context.Context, st model.Status, limit int) ([]model.ContentItem, error)
	Approve(ctx context.Context, id, actor string) (*model.ContentItem, error)
	Reject(ctx context.Context, id, actor, reason string) (*model.ContentItem, error)
	Schedule(ctx context.Context, id, actor string, at time.Time) (*model.ContentItem, error)
}

// AuditReader lists recent audit entries.
type AuditReader interface {
	Recent(ctx context.Context, q storage.AuditQuery) ([]model.AuditEntry, error)
}

// Publisher runs one item through the orchestrator.
type Publisher interface {
	ProcessID(ctx context.Context, id, actor string) (publish.Outcome, error)
}

// IntakeStore manages intake sources and rules.
type IntakeStore interface {
	CreateSource(ctx context.Context, src *model.IntakeSource) error
	GetSource(ctx context.Context, id int64) (*model.IntakeSource, error)
	ListSources(ctx context.Context) ([]model.IntakeSource, error)
	UpdateSource(ctx context.Context, src *model.IntakeSource) error
	DeleteSource(ctx context.Context, id int64) error
	CreateRule(ctx context.Context, r *model.IntakeRule) error
	ListRules(ctx context.Context, sourceID int64) ([]model.IntakeRule, error)
	DeleteRule(ctx context.Context, id int64) error
}

// FeedFetcher loads a feed to validate a new source.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*gofeed.Feed, error)
}

// Services are the components the bot administers.
type Services struct {
	Controls  Controls
	Limiter   Limiter
	Content   Content
	Audit     AuditReader
	Publisher Publisher
	Intake    IntakeStore
	Fetcher   FeedFetcher
}

// Bot handles operator commands and sends alerts.
type Bot struct {
	api telegramAPI
	svc Services
	cfg *config.Config
	log *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, svc Services, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api: api,
		svc: svc,
		cfg: cfg,
		log: log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || !b.cfg.IsUserAllowed(cb.From.ID) {
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	msg := update.Message
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return
	}
	if !b.cfg.IsUserAllowed(msg.From.ID) {
		b.log.Warn("command from user not on allow list", "user_id", msg.From.ID, "cmd", msg.Command())
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// Alert posts text to the configured alert chat.
func (b *Bot) Alert(_ context.Context, text string) {
	if b.cfg.AlertChatID == 0 {
		b.log.Warn("alert dropped, no alert chat configured", "text", text)
		return
	}
	b.SendMessage(b.cfg.AlertChatID, "ALERT\n\n"+text)
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// actorOf names the operator in audit entries.
func actorOf(u *tgbotapi.User) string {
	if u == nil {
		return "telegram:unknown"
	}
	if u.UserName != "" {
		return "telegram:@" + u.UserName
	}
	return fmt.Sprintf("telegram:%d", u.ID)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	actor := actorOf(msg.From)

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "actor", actor)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "pause":
		b.handlePause(ctx, chatID, actor, args)
	case "resume":
		b.handleResume(ctx, chatID, actor)
	case "enable":
		b.handlePlatformSwitch(ctx, chatID, actor, args, true)
	case "disable":
		b.handlePlatformSwitch(ctx, chatID, actor, args, false)
	case "reset":
		b.handleReset(ctx, chatID, actor, args)
	case "caps":
		b.handleCaps(ctx, chatID)
	case "setcap":
		b.handleSetCap(ctx, chatID, actor, args)
	case "autopause":
		b.handleCapFlag(ctx, chatID, actor, args, flagAutoPause)
	case "capalerts":
		b.handleCapFlag(ctx, chatID, actor, args, flagAlerts)
	case "audit":
		b.handleAudit(ctx, chatID, args)
	case cmdQueue:
		b.handleQueue(ctx, chatID)
	case cmdApprove:
		b.handleApprove(ctx, chatID, actor, args)
	case "reject":
		b.handleReject(ctx, chatID, actor, args)
	case "schedule":
		b.handleSchedule(ctx, chatID, actor, args)
	case cmdPublish:
		b.handlePublish(ctx, chatID, actor, args)
	case "sources":
		b.handleSources(ctx, chatID)
	case "addsource":
		b.handleAddSource(ctx, chatID, args)
	case "source":
		b.handleSourceInfo(ctx, chatID, args)
	case "rmsource":
		b.handleRemoveSource(ctx, chatID, args)
	case "interval":
		b.handleInterval(ctx, chatID, args)
	case "stopsource":
		b.handleSourceActive(ctx, chatID, args, false)
	case "startsource":
		b.handleSourceActive(ctx, chatID, args, true)
	case cmdRules:
		b.handleRules(ctx, chatID, args)
	case "include":
		b.handleAddRule(ctx, chatID, args, model.RuleInclude)
	case "exclude":
		b.handleAddRule(ctx, chatID, args, model.RuleExclude)
	case "include_re":
		b.handleAddRule(ctx, chatID, args, model.RuleIncludeRe)
	case "exclude_re":
		b.handleAddRule(ctx, chatID, args, model.RuleExcludeRe)
	case cmdRmRule:
		b.handleRmRule(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
