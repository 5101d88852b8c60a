package handler

import (
	"strings"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixkar/hubble/domain/model"
)

func TestFormatTicketCard(t *testing.T) {
	ticket := &model.Ticket{
		TicketID:         "12",
		Status:           model.StatusOpen,
		Priority:         "CRITICAL",
		Requester:        "@alice",
		ThreadLink:       "https://acme.slack.com/archives/C1/p1712345678000200",
		CreatedAt:        "2026-08-15 12:00:00",
		Description:      "mail server unreachable",
		ChannelID:        "C1",
		CustomFieldsJSON: `{"requester_id":"U1","environment":"production"}`,
	}

	fields := append(model.DefaultTemplate(), model.FieldDescriptor{
		TemplateKey: "default", FieldID: "environment", Label: "Environment", Type: model.FieldTypeSelect, Order: 6,
	})

	fallback, blocks := formatTicketCard(ticket, fields, true)
	assert.Contains(t, fallback, "Ticket #12")
	assert.Contains(t, fallback, "Open")

	var text strings.Builder
	var actions *slack.ActionBlock
	for _, b := range blocks {
		switch v := b.(type) {
		case *slack.SectionBlock:
			if v.Text != nil {
				text.WriteString(v.Text.Text + "\n")
			}
		case *slack.ActionBlock:
			actions = v
		}
	}

	rendered := text.String()
	assert.Contains(t, rendered, "🔵 *Ticket #12*")
	assert.Contains(t, rendered, "🔴 CRITICAL")
	assert.Contains(t, rendered, "<@U1>")
	assert.Contains(t, rendered, "View thread")
	assert.Contains(t, rendered, "Not assigned")
	assert.Contains(t, rendered, "mail server unreachable")
	assert.Contains(t, rendered, "*Environment:* production")

	require.NotNil(t, actions)
	var actionIDs []string
	for _, e := range actions.Elements.ElementSet {
		if btn, ok := e.(*slack.ButtonBlockElement); ok {
			actionIDs = append(actionIDs, btn.ActionID)
			assert.Equal(t, "12", btn.Value)
		}
	}
	assert.Equal(t, []string{"internal_view_edit", "internal_assign_me", "internal_change_status"}, actionIDs)
}

func TestFormatTicketCard_noButtons(t *testing.T) {
	ticket := &model.Ticket{TicketID: "3", Status: model.StatusClosed, Priority: "LOW"}

	_, blocks := formatTicketCard(ticket, model.DefaultTemplate(), false)
	for _, b := range blocks {
		_, ok := b.(*slack.ActionBlock)
		assert.False(t, ok)
	}
}

func TestFormatTicketCard_truncatesDescription(t *testing.T) {
	ticket := &model.Ticket{
		TicketID:    "4",
		Status:      model.StatusOpen,
		Priority:    "LOW",
		Description: strings.Repeat("x", 600),
	}

	_, blocks := formatTicketCard(ticket, model.DefaultTemplate(), false)
	for _, b := range blocks {
		if s, ok := b.(*slack.SectionBlock); ok && s.Text != nil {
			assert.LessOrEqual(t, len(s.Text.Text), cardDescriptionLimit+len("*Description:*\n")+len("…"))
		}
	}
}

func TestChangeStatusLabel(t *testing.T) {
	assert.Equal(t, "Close", changeStatusLabel(&model.Ticket{Status: model.StatusOpen}))
	assert.Equal(t, "Reopen", changeStatusLabel(&model.Ticket{Status: model.StatusClosed}))
}

func TestStatusAndPriorityEmoji(t *testing.T) {
	assert.Equal(t, "✅", statusEmoji(model.StatusClosed))
	assert.Equal(t, "🔵", statusEmoji(model.StatusOpen))
	assert.Equal(t, "🟡", priorityEmoji("medium"))
	assert.Equal(t, "⚪", priorityEmoji("whatever"))
}

func TestFormatCardTime(t *testing.T) {
	assert.Equal(t, "Aug 15, 12:00 PM", formatCardTime("2026-08-15 12:00:00"))
	assert.Equal(t, "N/A", formatCardTime(""))
	assert.Equal(t, "not a time", formatCardTime("not a time"))
}
