package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/fixkar/hubble/domain/model"
)

const cardDescriptionLimit = 500

var priorityEmojis = map[string]string{
	"CRITICAL": "🔴",
	"HIGH":     "🟠",
	"MEDIUM":   "🟡",
	"LOW":      "🟢",
}

func statusEmoji(status string) string {
	if status == model.StatusClosed {
		return "✅"
	}
	return "🔵"
}

func priorityEmoji(priority string) string {
	if e, ok := priorityEmojis[strings.ToUpper(priority)]; ok {
		return e
	}
	return "⚪"
}

// formatCardTime reshapes the stored timestamp for the card. Anything
// unparseable passes through untouched.
func formatCardTime(raw string) string {
	if raw == "" {
		return "N/A"
	}
	t, err := time.Parse("2006-01-02 15:04:05", raw)
	if err != nil {
		return raw
	}
	return t.Format("Jan 2, 3:04 PM")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// formatTicketCard renders the internal-channel dashboard card. The
// same blocks are used for the initial post and every in-place update,
// so the card always reflects the current record. Buttons are dropped
// for non-interactive surfaces such as slash-command summaries.
func formatTicketCard(ticket *model.Ticket, fields []model.FieldDescriptor, includeButtons bool) (string, []slack.Block) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s *Ticket #%s*\n", statusEmoji(ticket.Status), ticket.TicketID)
	fmt.Fprintf(&sb, "*Status:* %s   *Priority:* %s %s\n", ticket.Status, priorityEmoji(ticket.Priority), ticket.Priority)

	requester := ticket.Requester
	if id := ticket.CreatorID(); id != "" {
		requester = fmt.Sprintf("<@%s>", id)
	}
	if ticket.ThreadLink != "" {
		fmt.Fprintf(&sb, "*Requester:* %s   <%s|View thread>\n", requester, ticket.ThreadLink)
	} else {
		fmt.Fprintf(&sb, "*Requester:* %s\n", requester)
	}

	assignee := ticket.Assignee
	if id := ticket.AssigneeID(); id != "" {
		assignee = fmt.Sprintf("<@%s>", id)
	}
	if assignee == "" {
		assignee = "Not assigned"
	}
	fmt.Fprintf(&sb, "*Assignee:* %s\n", assignee)
	fmt.Fprintf(&sb, "*Last change:* %s", formatCardTime(ticket.CreatedAt))
	if ticket.ResolvedAt != "" {
		fmt.Fprintf(&sb, "   *Resolved:* %s", formatCardTime(ticket.ResolvedAt))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, sb.String(), false, false),
			nil, nil,
		),
	}

	if desc := ticket.Description; desc != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Description:*\n%s", truncate(desc, cardDescriptionLimit)), false, false),
			nil, nil,
		))
	}

	if lines := customFieldLines(ticket, fields); len(lines) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false),
			nil, nil,
		))
	}

	if includeButtons {
		blocks = append(blocks,
			slack.NewDividerBlock(),
			slack.NewActionBlock("",
				slack.NewButtonBlockElement("internal_view_edit", ticket.TicketID,
					slack.NewTextBlockObject(slack.PlainTextType, "View / Edit", false, false)),
				slack.NewButtonBlockElement("internal_assign_me", ticket.TicketID,
					slack.NewTextBlockObject(slack.PlainTextType, "Assign to me", false, false)),
				slack.NewButtonBlockElement("internal_change_status", ticket.TicketID,
					slack.NewTextBlockObject(slack.PlainTextType, changeStatusLabel(ticket), false, false)),
			),
		)
	}

	fallback := fmt.Sprintf("Ticket #%s [%s/%s] %s", ticket.TicketID, ticket.Status, ticket.Priority, truncate(ticket.Description, 80))
	return fallback, blocks
}

func changeStatusLabel(ticket *model.Ticket) string {
	if ticket.Status == model.StatusClosed {
		return "Reopen"
	}
	return "Close"
}

// customFieldLines renders template-defined extra fields, labelled
// from the template. Identity bookkeeping keys stay off the card.
func customFieldLines(ticket *model.Ticket, fields []model.FieldDescriptor) []string {
	labels := map[string]string{}
	for _, f := range fields {
		labels[f.FieldID] = f.Label
	}

	custom := ticket.CustomFields()
	lines := []string{}
	for _, f := range model.SortFields(fields) {
		if model.IsCoreField(f.FieldID) {
			continue
		}
		v := custom[f.FieldID]
		if v == "" {
			continue
		}
		label := labels[f.FieldID]
		if label == "" {
			label = f.FieldID
		}
		lines = append(lines, fmt.Sprintf("*%s:* %s", label, v))
	}
	return lines
}

// ticketCreatedMessage is the thread confirmation posted right after a
// ticket row lands.
func ticketCreatedMessage(ticketID string) (string, []slack.Block) {
	text := fmt.Sprintf("🎫 Hubble has logged your ticket as #%s. We'll get back to you in this thread.", ticketID)
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
			nil, nil,
		),
		slack.NewActionBlock("",
			slack.NewButtonBlockElement("view_edit_ticket", ticketID,
				slack.NewTextBlockObject(slack.PlainTextType, "View / Edit", false, false)),
			slack.NewButtonBlockElement("close_ticket", ticketID,
				slack.NewTextBlockObject(slack.PlainTextType, "Close ticket", false, false)),
		),
	}
	return text, blocks
}
