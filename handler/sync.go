package handler

import (
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/fixkar/hubble/domain/model"
)

// refreshTicketViews re-renders every Slack surface that mirrors the
// ticket from the current stored record. The record is the single
// source of truth; rendering never reads back from Slack. All failures
// here are logged and swallowed so a dead message never blocks an
// update that already committed.
func (h *Handler) refreshTicketViews(ticketID string) {
	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil {
		slog.Error("GetTicket failed during refresh", slog.Any("err", err), slog.String("ticket_id", ticketID))
		return
	}
	if ticket == nil {
		return
	}

	if ticket.InternalRef == "" {
		return
	}
	channelID, messageTS, err := model.DecodeInternalRef(ticket.InternalRef)
	if err != nil {
		slog.Error("DecodeInternalRef failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
		return
	}

	fields := h.fieldTemplateFor(ticket.ChannelID)
	text, blocks := formatTicketCard(ticket, fields, true)
	if _, _, _, err := h.client.UpdateMessage(
		channelID,
		messageTS,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	); err != nil {
		slog.Error("dashboard card update failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
	}
}

// notifyTicketThread posts a change note to the ticket's origin thread
// and, when the ticket has a dashboard card, to the card's thread as
// well. Best effort on both.
func (h *Handler) notifyTicketThread(ticketID, text string) {
	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil || ticket == nil {
		slog.Error("GetTicket failed for notification", slog.Any("err", err), slog.String("ticket_id", ticketID))
		return
	}

	if ticket.ChannelID != "" && ticket.ThreadLink != "" {
		threadTS := model.ThreadTSFromLink(ticket.ThreadLink)
		if threadTS != "" {
			if _, _, err := h.client.PostMessage(
				ticket.ChannelID,
				slack.MsgOptionTS(threadTS),
				slack.MsgOptionText(text, false),
			); err != nil {
				slog.Error("thread notification failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
			}
		}
	}

	if ticket.InternalRef != "" {
		channelID, messageTS, err := model.DecodeInternalRef(ticket.InternalRef)
		if err != nil {
			return
		}
		if _, _, err := h.client.PostMessage(
			channelID,
			slack.MsgOptionTS(messageTS),
			slack.MsgOptionText(text, false),
		); err != nil {
			slog.Error("dashboard thread notification failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
		}
	}
}
