package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postgate/internal/model"
	"postgate/internal/status"
	"postgate/internal/storage"
)

const (
	auditLimit = 10
	queueLimit = 10
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Publish governance console.

Quick start:
1. /status to see the kill switches
2. /queue to review content waiting for approval
3. /caps to see the rate caps

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Kill switches:
/status: posting and platform switches
/pause <reason>: stop all publishing
/resume: resume publishing
/enable <platform>, /disable <platform>
/reset <platform>: re-enable and restart error counting

Rate caps:
/caps: show caps
/setcap <platform> <per_hour> <per_day> <cooldown_min> (0 = no limit)
/autopause on|off: auto-pause a platform on repeated cap hits or errors
/capalerts on|off: alert this bot's alert chat on cap hits

Content:
/queue: items waiting for approval
/approve <id>, /reject <id> <reason>
/schedule <id> <RFC3339 time>
/publish <id>: run the publish gates now
/audit [platform]: recent decisions

Intake:
/sources, /source <id>, /addsource <platform> <url>
/rmsource <id>, /interval <id> <min>
/stopsource <id>, /startsource <id>
/rules <id>, /rmrule <rule_id>
/include <id> [-s scope] <word>, /exclude <id> [-s scope] <word>
/include_re <id> [-s scope] <regex>, /exclude_re <id> [-s scope] <regex>

Platforms: instagram, facebook, tiktok, youtube
Scope flag: -s title | content | all (default: all)`)
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	posting := b.svc.Controls.GetSettings(ctx)
	platforms, err := b.svc.Controls.Platforms(ctx)
	if err != nil {
		b.log.Error("read platform switches", "error", err)
	}

	msg := tgbotapi.NewMessage(chatID, FormatStatus(posting, platforms, err))
	if posting.Paused && !posting.ReadError {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Resume posting", cbResume+":-"),
			),
		)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "error", err)
	}
}

func (b *Bot) handlePause(ctx context.Context, chatID int64, actor, reason string) {
	if reason == "" {
		reason = "paused from Telegram"
	}
	if _, err := b.svc.Controls.SetPaused(ctx, true, actor, reason); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Posting paused. Nothing will be published until /resume.")
}

func (b *Bot) handleResume(ctx context.Context, chatID int64, actor string) {
	if _, err := b.svc.Controls.SetPaused(ctx, false, actor, ""); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, "Posting resumed.")
}

func (b *Bot) handlePlatformSwitch(ctx context.Context, chatID int64, actor, args string, enabled bool) {
	p, err := model.ParsePlatform(args)
	if err != nil {
		if enabled {
			b.reply(chatID, "Usage: /enable <platform>")
		} else {
			b.reply(chatID, "Usage: /disable <platform>")
		}
		return
	}
	if err := b.svc.Controls.SetPlatformEnabled(ctx, p, enabled, actor); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if enabled {
		b.reply(chatID, fmt.Sprintf("%s enabled.", p))
	} else {
		b.reply(chatID, fmt.Sprintf("%s disabled.", p))
	}
}

func (b *Bot) handleReset(ctx context.Context, chatID int64, actor, args string) {
	p, err := model.ParsePlatform(args)
	if err != nil {
		b.reply(chatID, "Usage: /reset <platform>")
		return
	}
	if _, err := b.svc.Limiter.ResetPlatformErrorCount(ctx, p, actor); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("%s re-enabled, error count reset.", p))
}

func (b *Bot) handleCaps(ctx context.Context, chatID int64) {
	cfg, err := b.svc.Controls.GetCaps(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error reading rate caps: %v", err))
		return
	}
	b.reply(chatID, FormatCaps(cfg))
}

func (b *Bot) handleSetCap(ctx context.Context, chatID int64, actor, args string) {
	p, caps, err := ParseSetCapArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.svc.Controls.SetPlatformCaps(ctx, p, caps); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("rate caps changed", "platform", p, "actor", actor)
	b.reply(chatID, fmt.Sprintf("Caps for %s: %s/hour, %s/day, cooldown %s.",
		p, limitLabel(caps.MaxPerHour), limitLabel(caps.MaxPerDay), cooldownLabel(caps.CooldownMinutes)))
}

type capFlag int

const (
	flagAutoPause capFlag = iota
	flagAlerts
)

func (b *Bot) handleCapFlag(ctx context.Context, chatID int64, actor, args string, flag capFlag) {
	on, err := ParseSwitch(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	cfg, err := b.svc.Controls.GetCaps(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error reading rate caps: %v", err))
		return
	}
	if cfg == nil {
		cfg = &model.CapConfig{}
	}

	label := "Auto-pause on cap"
	switch flag {
	case flagAutoPause:
		cfg.AutoPauseOnCap = on
	case flagAlerts:
		cfg.AlertOnCap = on
		label = "Alerts on cap"
	}
	if err := b.svc.Controls.PutCaps(ctx, *cfg); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("rate cap flags changed", "auto_pause", cfg.AutoPauseOnCap, "alerts", cfg.AlertOnCap, "actor", actor)
	b.reply(chatID, fmt.Sprintf("%s: %s.", label, onOff(on)))
}

func (b *Bot) handleAudit(ctx context.Context, chatID int64, args string) {
	q := storage.AuditQuery{Limit: auditLimit}
	if args != "" {
		p, err := model.ParsePlatform(args)
		if err != nil {
			b.reply(chatID, "Usage: /audit [platform]")
			return
		}
		q.Platform = p
	}
	entries, err := b.svc.Audit.Recent(ctx, q)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatAudit(entries))
}

func (b *Bot) handleQueue(ctx context.Context, chatID int64) {
	items, err := b.svc.Content.List(ctx, model.StatusNeedsApproval, queueLimit)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(items) == 0 {
		b.reply(chatID, "Nothing is waiting for approval.")
		return
	}
	for i := range items {
		msg := tgbotapi.NewMessage(chatID, FormatContent(&items[i]))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Approve", cmdApprove+":"+items[i].ID),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send queue item", "content_id", items[i].ID, "error", err)
		}
	}
}

func (b *Bot) handleApprove(ctx context.Context, chatID int64, actor, args string) {
	id, _, err := ParseContentID(args)
	if err != nil {
		b.reply(chatID, "Usage: /approve <content_id>")
		return
	}
	item, err := b.svc.Content.Approve(ctx, id, actor)
	if err != nil {
		b.replyContentError(chatID, "approve", id, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Approved %s \"%s\".\nUse /schedule %s <time> or /publish %s.", item.ID, item.Title, item.ID, item.ID))
}

func (b *Bot) handleReject(ctx context.Context, chatID int64, actor, args string) {
	id, reason, err := ParseContentID(args)
	if err != nil || reason == "" {
		b.reply(chatID, "Usage: /reject <content_id> <reason>")
		return
	}
	item, err := b.svc.Content.Reject(ctx, id, actor, reason)
	if err != nil {
		b.replyContentError(chatID, "reject", id, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Rejected %s \"%s\".", item.ID, item.Title))
}

func (b *Bot) handleSchedule(ctx context.Context, chatID int64, actor, args string) {
	id, at, err := ParseScheduleArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	item, err := b.svc.Content.Schedule(ctx, id, actor, at)
	if err != nil {
		b.replyContentError(chatID, "schedule", id, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Scheduled %s \"%s\" for %s.", item.ID, item.Title, at.Format(timeLayout)))
}

func (b *Bot) handlePublish(ctx context.Context, chatID int64, actor, args string) {
	id, _, err := ParseContentID(args)
	if err != nil {
		b.reply(chatID, "Usage: /publish <content_id>")
		return
	}
	out, err := b.svc.Publisher.ProcessID(ctx, id, actor)
	if err != nil {
		b.replyContentError(chatID, "publish", id, err)
		return
	}
	b.reply(chatID, FormatOutcome(out))
}

func (b *Bot) replyContentError(chatID int64, verb, id string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Content %s not found.", id))
	case errors.Is(err, status.ErrInvalidTransition):
		b.reply(chatID, fmt.Sprintf("Cannot %s %s: %s", verb, id, strings.TrimPrefix(err.Error(), status.ErrInvalidTransition.Error()+": ")))
	default:
		b.log.Error("content command", "verb", verb, "content_id", id, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	}
}
