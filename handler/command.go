package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/fixkar/hubble/domain/model"
)

// HandleCommands serves POST /slack/commands. Replies are written
// straight back in the HTTP response, which Slack shows ephemerally.
func (h *Handler) HandleCommands(w http.ResponseWriter, r *http.Request) {
	if _, err := h.verifyRequest(r); err != nil {
		slog.Error("verifyRequest failed", slog.Any("err", err))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		slog.Error("SlashCommandParse failed", slog.Any("err", err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var reply string
	switch cmd.Command {
	case "/ticket-status":
		reply = h.cmdTicketStatus(cmd)
	case "/update-ticket":
		reply = h.cmdUpdateTicket(cmd)
	case "/assign-ticket":
		reply = h.cmdAssignTicket(cmd)
	case "/ticket-digest":
		reply = h.cmdTicketDigest(cmd)
	default:
		reply = fmt.Sprintf("Unknown command %s", cmd.Command)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, reply)
}

func (h *Handler) cmdTicketStatus(cmd slack.SlashCommand) string {
	id := strings.TrimSpace(cmd.Text)
	if id == "" {
		return "Usage: /ticket-status <ticket-id>"
	}
	ticket, err := h.tickets.GetTicket(id)
	if err != nil {
		slog.Error("GetTicket failed", slog.Any("err", err), slog.String("ticket_id", id))
		return fmt.Sprintf("Failed to look up Ticket #%s.", id)
	}
	if ticket == nil {
		return fmt.Sprintf("Ticket #%s was not found.", id)
	}

	assignee := ticket.Assignee
	if assignee == "" {
		assignee = "Not assigned"
	}
	lines := []string{
		fmt.Sprintf("%s Ticket #%s", statusEmoji(ticket.Status), ticket.TicketID),
		fmt.Sprintf("Status: %s / Priority: %s %s", ticket.Status, priorityEmoji(ticket.Priority), ticket.Priority),
		fmt.Sprintf("Requester: %s / Assignee: %s", ticket.Requester, assignee),
	}
	if ticket.ThreadLink != "" {
		lines = append(lines, fmt.Sprintf("Thread: %s", ticket.ThreadLink))
	}
	if ticket.Description != "" {
		lines = append(lines, truncate(ticket.Description, 200))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) cmdUpdateTicket(cmd slack.SlashCommand) string {
	parts := strings.Fields(cmd.Text)
	if len(parts) != 2 {
		return "Usage: /update-ticket <ticket-id> <Open|Closed>"
	}
	id, status := parts[0], parts[1]

	ticket, err := h.tickets.GetTicket(id)
	if err != nil || ticket == nil {
		return fmt.Sprintf("Ticket #%s was not found.", id)
	}
	if !h.perms.IsAdmin(cmd.UserID, ticket.ChannelID) {
		return "Only channel admins can update ticket status."
	}
	if err := h.tickets.UpdateStatus(id, canonicalStatus(status)); err != nil {
		slog.Error("UpdateStatus failed", slog.Any("err", err), slog.String("ticket_id", id))
		return fmt.Sprintf("Failed to update Ticket #%s: %v", id, err)
	}

	go func() {
		h.notifyTicketThread(id, fmt.Sprintf("📋 Ticket #%s status set to %s by <@%s>.", id, canonicalStatus(status), cmd.UserID))
		h.refreshTicketViews(id)
	}()
	return fmt.Sprintf("Ticket #%s is now %s.", id, canonicalStatus(status))
}

func canonicalStatus(s string) string {
	if strings.EqualFold(s, model.StatusClosed) {
		return model.StatusClosed
	}
	if strings.EqualFold(s, model.StatusOpen) {
		return model.StatusOpen
	}
	return s
}

func (h *Handler) cmdAssignTicket(cmd slack.SlashCommand) string {
	parts := strings.Fields(cmd.Text)
	if len(parts) != 2 {
		return "Usage: /assign-ticket <ticket-id> <@user>"
	}
	id, mention := parts[0], parts[1]

	ticket, err := h.tickets.GetTicket(id)
	if err != nil || ticket == nil {
		return fmt.Sprintf("Ticket #%s was not found.", id)
	}
	if !h.perms.IsAdmin(cmd.UserID, ticket.ChannelID) {
		return "Only channel admins can assign tickets."
	}

	userID := parseUserMention(mention)
	display := mention
	if userID != "" {
		display = "@" + h.getUserDisplayName(userID)
	}
	if err := h.tickets.UpdateAssignee(id, display, userID); err != nil {
		slog.Error("UpdateAssignee failed", slog.Any("err", err), slog.String("ticket_id", id))
		return fmt.Sprintf("Failed to assign Ticket #%s.", id)
	}

	go func() {
		h.notifyTicketThread(id, fmt.Sprintf("👤 Ticket #%s assigned to %s by <@%s>.", id, display, cmd.UserID))
		h.refreshTicketViews(id)
	}()
	return fmt.Sprintf("Ticket #%s assigned to %s.", id, display)
}

// parseUserMention accepts "<@U123>", "<@U123|name>" and bare "U123".
func parseUserMention(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = s[2 : len(s)-1]
		if i := strings.Index(s, "|"); i >= 0 {
			s = s[:i]
		}
	}
	if model.IsRawUserID(s) {
		return s
	}
	return ""
}

func (h *Handler) cmdTicketDigest(cmd slack.SlashCommand) string {
	if !h.perms.IsAdmin(cmd.UserID, cmd.ChannelID) {
		return "Only channel admins can request a digest."
	}
	if h.ai == nil {
		return "Digest is not configured. Set OPENAI_API_KEY to enable it."
	}

	go func() {
		tickets, err := h.tickets.GetAllTickets()
		if err != nil {
			slog.Error("GetAllTickets failed for digest", slog.Any("err", err))
			return
		}
		open := []model.Ticket{}
		for _, t := range tickets {
			if t.Status != model.StatusClosed {
				open = append(open, t)
			}
		}
		digest, err := h.ai.GenerateTicketDigest(open)
		if err != nil {
			slog.Error("GenerateTicketDigest failed", slog.Any("err", err))
			return
		}
		if _, _, err := h.client.PostMessage(
			cmd.ChannelID,
			slack.MsgOptionText(fmt.Sprintf("📊 *Open-ticket digest* (%d open)\n%s", len(open), digest), false),
		); err != nil {
			slog.Error("failed to post digest", slog.Any("err", err))
		}
	}()
	return "⏳ Preparing the open-ticket digest…"
}
