package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdApprove = "approve"
	cmdPublish = "publish"
	cmdQueue   = "queue"
	cmdRules   = "rules"
	cmdRmRule  = "rmrule"

	cbResume      = "resume"
	cbRmSourceAsk = "rmsource_confirm"
	cbRmSource    = "rmsource"
	cbNoop        = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}
	actor := actorOf(cb.From)

	b.log.Info("callback",
		"action", action,
		"arg", arg,
		"chat_id", chatID,
		"actor", actor,
	)

	switch action {
	case cbResume:
		b.handleResume(ctx, chatID, actor)
	case cmdApprove:
		b.handleApprove(ctx, chatID, actor, arg)
	case cmdPublish:
		b.handlePublish(ctx, chatID, actor, arg)
	case cmdRules:
		b.handleRules(ctx, chatID, arg)
	case cbRmSourceAsk:
		id, err := ParseIDArg(arg)
		if err != nil {
			return
		}
		src, ok := b.loadSource(ctx, chatID, id)
		if !ok {
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete source #%d \"%s\"? Its rules go with it.", id, src.Name))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("%s:%d", cbRmSource, id)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send delete confirmation", "error", err)
		}
	case cbRmSource:
		b.handleRemoveSource(ctx, chatID, arg)
	case cmdRmRule:
		b.handleRmRule(ctx, chatID, arg)
	}
}
