package handler

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/fixkar/hubble/domain/model"
)

// fieldValue returns the stored value a field should render with. Core
// fields map to ticket columns; anything else reads custom data. An
// empty description falls back to the legacy "message" custom key that
// older rows carried.
func fieldValue(ticket *model.Ticket, fieldID string) string {
	switch fieldID {
	case model.FieldRequester:
		return ticket.Requester
	case model.FieldStatus:
		return ticket.Status
	case model.FieldAssignee:
		return ticket.Assignee
	case model.FieldPriority:
		return ticket.Priority
	case model.FieldDescription:
		if ticket.Description != "" {
			return ticket.Description
		}
		return ticket.CustomFields()["message"]
	default:
		return ticket.CustomFields()[fieldID]
	}
}

// prefillUserID finds a raw Slack user ID for a user_select field.
// The persisted {field}_id custom key wins over the display value,
// which may have been overwritten with a free-form name.
func prefillUserID(ticket *model.Ticket, fieldID string) string {
	custom := ticket.CustomFields()
	if id := custom[fieldID+"_id"]; model.IsRawUserID(id) {
		return id
	}
	if v := fieldValue(ticket, fieldID); model.IsRawUserID(v) {
		return v
	}
	return ""
}

// buildModalBlocks renders one input block per template field,
// prefilled from the ticket. With lockStatus the status field renders
// as a read-only section instead of an input.
func buildModalBlocks(fields []model.FieldDescriptor, ticket *model.Ticket, lockStatus bool) []slack.Block {
	blocks := []slack.Block{}

	for _, f := range model.SortFields(fields) {
		if lockStatus && f.FieldID == model.FieldStatus {
			blocks = append(blocks,
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s:* %s", f.Label, fieldValue(ticket, f.FieldID)), false, false),
					nil, nil,
				),
				slack.NewContextBlock("",
					slack.NewTextBlockObject(slack.MarkdownType, "Status can only be changed by a channel admin.", false, false),
				),
			)
			continue
		}

		label := slack.NewTextBlockObject(slack.PlainTextType, f.Label, false, false)
		var element slack.BlockElement

		switch f.Type {
		case model.FieldTypeUserSelect:
			sel := slack.NewOptionsSelectBlockElement(slack.OptTypeUser, nil, f.FieldID+"_select")
			sel.Placeholder = slack.NewTextBlockObject(slack.PlainTextType, "Select a user", false, false)
			if id := prefillUserID(ticket, f.FieldID); id != "" {
				sel.InitialUser = id
			}
			element = sel
		case model.FieldTypeSelect:
			options := []*slack.OptionBlockObject{}
			var initial *slack.OptionBlockObject
			current := fieldValue(ticket, f.FieldID)
			for _, opt := range f.OptionList() {
				o := slack.NewOptionBlockObject(opt,
					slack.NewTextBlockObject(slack.PlainTextType, opt, false, false), nil)
				options = append(options, o)
				if strings.EqualFold(opt, current) {
					initial = o
				}
			}
			sel := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, nil, f.FieldID+"_select", options...)
			sel.Placeholder = slack.NewTextBlockObject(slack.PlainTextType, "Select an option", false, false)
			sel.InitialOption = initial
			element = sel
		case model.FieldTypeDate:
			picker := slack.NewDatePickerBlockElement(f.FieldID + "_date")
			if v := fieldValue(ticket, f.FieldID); v != "" {
				picker.InitialDate = v
			}
			element = picker
		default:
			input := slack.NewPlainTextInputBlockElement(nil, f.FieldID+"_input")
			input.InitialValue = fieldValue(ticket, f.FieldID)
			input.Multiline = f.Type == model.FieldTypeTextarea
			element = input
		}

		block := slack.NewInputBlock(f.FieldID, label, nil, element)
		block.Optional = !f.Required
		blocks = append(blocks, block)
	}
	return blocks
}

// buildViewOnlyBlocks renders the ticket as sections for users who
// can see but not touch.
func buildViewOnlyBlocks(fields []model.FieldDescriptor, ticket *model.Ticket) []slack.Block {
	blocks := []slack.Block{}

	for _, f := range model.SortFields(fields) {
		value := fieldValue(ticket, f.FieldID)
		if f.Type == model.FieldTypeUserSelect {
			if id := prefillUserID(ticket, f.FieldID); id != "" {
				value = fmt.Sprintf("<@%s>", id)
			}
		}
		if value == "" {
			if f.FieldID == model.FieldAssignee {
				value = "Not assigned"
			} else {
				value = "N/A"
			}
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*%s:*\n%s", f.Label, value), false, false),
			nil, nil,
		))
	}

	blocks = append(blocks,
		slack.NewDividerBlock(),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "👁️ View-only mode. Only channel admins can edit tickets.", false, false),
		),
	)
	return blocks
}

// extractModalValues reads the submitted view state back into a flat
// field-id map. Fields the modal never rendered simply do not appear,
// which is how a locked status stays untouched.
func extractModalValues(state map[string]map[string]slack.BlockAction, fields []model.FieldDescriptor, lockStatus bool) map[string]string {
	values := map[string]string{}

	for _, f := range fields {
		if lockStatus && f.FieldID == model.FieldStatus {
			continue
		}
		actions, ok := state[f.FieldID]
		if !ok {
			continue
		}
		switch f.Type {
		case model.FieldTypeUserSelect:
			if a, ok := actions[f.FieldID+"_select"]; ok {
				values[f.FieldID] = a.SelectedUser
			}
		case model.FieldTypeSelect:
			if a, ok := actions[f.FieldID+"_select"]; ok {
				values[f.FieldID] = a.SelectedOption.Value
			}
		case model.FieldTypeDate:
			if a, ok := actions[f.FieldID+"_date"]; ok {
				values[f.FieldID] = a.SelectedDate
			}
		default:
			if a, ok := actions[f.FieldID+"_input"]; ok {
				values[f.FieldID] = a.Value
			}
		}
	}
	return values
}
