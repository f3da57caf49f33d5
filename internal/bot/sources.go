package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"postgate/internal/intake"
	"postgate/internal/model"
	"postgate/internal/storage"
)

const defaultSourceInterval = 30

func (b *Bot) handleSources(ctx context.Context, chatID int64) {
	sources, err := b.svc.Intake.ListSources(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	counts := make(map[int64][2]int)
	for _, s := range sources {
		rules, err := b.svc.Intake.ListRules(ctx, s.ID)
		if err != nil {
			continue
		}
		var inc, exc int
		for _, r := range rules {
			switch r.Kind {
			case model.RuleInclude, model.RuleIncludeRe:
				inc++
			case model.RuleExclude, model.RuleExcludeRe:
				exc++
			}
		}
		counts[s.ID] = [2]int{inc, exc}
	}

	b.reply(chatID, FormatSourceList(sources, counts))
}

func (b *Bot) handleAddSource(ctx context.Context, chatID int64, args string) {
	platform, url, err := ParseAddSourceArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	feed, err := b.svc.Fetcher.Fetch(ctx, url)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to fetch feed: %v", err))
		return
	}

	name := feed.Title
	if name == "" {
		name = url
	}

	src := &model.IntakeSource{
		Name:            name,
		URL:             url,
		Platform:        platform,
		IntervalMinutes: defaultSourceInterval,
		IsActive:        true,
	}
	if err := b.svc.Intake.CreateSource(ctx, src); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save source: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Source added.\n#%d %s -> %s (every %d min)\nURL: %s\nNo rules yet, every new entry becomes a draft. Use /include, /exclude to narrow it.",
		src.ID, src.Name, src.Platform, src.IntervalMinutes, src.URL))
}

// loadSource replies with a not-found message when the source is missing.
func (b *Bot) loadSource(ctx context.Context, chatID, id int64) (*model.IntakeSource, bool) {
	src, err := b.svc.Intake.GetSource(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("get source", "source_id", id, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Source #%d not found.", id))
		return nil, false
	}
	return src, true
}

func (b *Bot) handleSourceInfo(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /source <id>")
		return
	}
	src, ok := b.loadSource(ctx, chatID, id)
	if !ok {
		return
	}
	rules, _ := b.svc.Intake.ListRules(ctx, src.ID)

	msg := tgbotapi.NewMessage(chatID, FormatSourceInfo(src, rules))
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Rules", fmt.Sprintf("%s:%d", cmdRules, src.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Delete", fmt.Sprintf("%s:%d", cbRmSourceAsk, src.ID)),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send source info", "error", err)
	}
}

func (b *Bot) handleRemoveSource(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmsource <id>")
		return
	}
	src, ok := b.loadSource(ctx, chatID, id)
	if !ok {
		return
	}
	if err := b.svc.Intake.DeleteSource(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error deleting source: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d \"%s\" deleted.", id, src.Name))
}

func (b *Bot) handleInterval(ctx context.Context, chatID int64, args string) {
	id, mins, err := ParseIntervalArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	src, ok := b.loadSource(ctx, chatID, id)
	if !ok {
		return
	}
	src.IntervalMinutes = mins
	if err := b.svc.Intake.UpdateSource(ctx, src); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d interval set to %d min.", id, mins))
}

func (b *Bot) handleSourceActive(ctx context.Context, chatID int64, args string, active bool) {
	id, err := ParseIDArg(args)
	if err != nil {
		if active {
			b.reply(chatID, "Usage: /startsource <id>")
		} else {
			b.reply(chatID, "Usage: /stopsource <id>")
		}
		return
	}
	src, ok := b.loadSource(ctx, chatID, id)
	if !ok {
		return
	}
	src.IsActive = active
	if err := b.svc.Intake.UpdateSource(ctx, src); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Source #%d \"%s\" %s.", id, src.Name, activeLabel(active)))
}

func (b *Bot) handleRules(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rules <id>")
		return
	}
	src, ok := b.loadSource(ctx, chatID, id)
	if !ok {
		return
	}
	rules, _ := b.svc.Intake.ListRules(ctx, src.ID)
	b.reply(chatID, FormatRuleList(src, rules))
}

func (b *Bot) handleAddRule(ctx context.Context, chatID int64, args string, kind model.RuleKind) {
	parsed, err := ParseRuleCommand(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	src, ok := b.loadSource(ctx, chatID, parsed.SourceID)
	if !ok {
		return
	}

	r := &model.IntakeRule{
		SourceID: parsed.SourceID,
		Kind:     kind,
		Scope:    parsed.Scope,
		Value:    parsed.Value,
	}
	if err := intake.ValidateRule(*r); err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid rule: %v", err))
		return
	}
	if err := b.svc.Intake.CreateRule(ctx, r); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.reply(chatID, fmt.Sprintf("Rule R%d added to #%d \"%s\": %s %s (%s)",
		r.ID, src.ID, src.Name, kind, parsed.Value, scopeLabel(parsed.Scope)))
}

func (b *Bot) handleRmRule(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmrule <rule_id>")
		return
	}
	if err := b.svc.Intake.DeleteRule(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule R%d removed.", id))
}
