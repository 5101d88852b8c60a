package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/fixkar/hubble/domain/model"
	"github.com/fixkar/hubble/domain/service"
)

const ticketEditModalCallbackID = "ticket_edit_modal"

// modalMetadata rides along in the modal's private_metadata so the
// submission handler knows which ticket and template it is looking at.
type modalMetadata struct {
	TicketID     string `json:"ticket_id"`
	TemplateKey  string `json:"template_key"`
	ChannelID    string `json:"channel_id"`
	StatusLocked bool   `json:"status_locked"`
}

// HandleInteractions serves POST /slack/interactive: block action
// button clicks and modal submissions.
func (h *Handler) HandleInteractions(w http.ResponseWriter, r *http.Request) {
	if _, err := h.verifyRequest(r); err != nil {
		slog.Error("verifyRequest failed", slog.Any("err", err))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	payload := r.FormValue("payload")
	if payload == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &callback); err != nil {
		slog.Error("unmarshal interaction payload failed", slog.Any("err", err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		h.handleBlockActions(&callback)
		w.WriteHeader(http.StatusOK)
	case slack.InteractionTypeViewSubmission:
		h.handleViewSubmission(w, &callback)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleBlockActions(callback *slack.InteractionCallback) {
	if len(callback.ActionCallback.BlockActions) == 0 {
		return
	}
	action := callback.ActionCallback.BlockActions[0]

	switch action.ActionID {
	case "view_edit_ticket", "internal_view_edit":
		h.openTicketEditModal(callback, action.Value)
	case "close_ticket":
		h.setTicketStatus(callback, action.Value, model.StatusClosed)
	case "internal_change_status":
		h.toggleTicketStatus(callback, action.Value)
	case "internal_assign_me":
		h.assignTicketToSelf(callback, action.Value)
	default:
		slog.Debug("skipped block action", slog.String("action_id", action.ActionID))
	}
}

// openTicketEditModal decides which of the three modal shapes the
// clicking user gets: full edit for admins, edit with the status row
// locked for the requester, view-only for everyone else.
func (h *Handler) openTicketEditModal(callback *slack.InteractionCallback, ticketID string) {
	userID := callback.User.ID

	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil {
		slog.Error("GetTicket failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
		return
	}
	if ticket == nil {
		h.postEphemeral(callback, fmt.Sprintf("Ticket #%s was not found.", ticketID))
		return
	}

	fields := h.fieldTemplateFor(ticket.ChannelID)
	isAdmin := h.perms.IsAdmin(userID, ticket.ChannelID)
	isCreator := h.perms.IsCreator(userID, ticket)

	var view slack.ModalViewRequest
	switch {
	case isAdmin:
		view = editModalView(ticket, fields, false)
	case isCreator:
		view = editModalView(ticket, fields, true)
	default:
		view = viewOnlyModalView(ticket, fields)
	}

	if _, err := h.client.OpenView(callback.TriggerID, view); err != nil {
		slog.Error("OpenView failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
	}
}

func editModalView(ticket *model.Ticket, fields []model.FieldDescriptor, lockStatus bool) slack.ModalViewRequest {
	meta, _ := json.Marshal(modalMetadata{
		TicketID:     ticket.TicketID,
		TemplateKey:  templateKeyOf(fields),
		ChannelID:    ticket.ChannelID,
		StatusLocked: lockStatus,
	})
	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      ticketEditModalCallbackID,
		PrivateMetadata: string(meta),
		Title:           slack.NewTextBlockObject(slack.PlainTextType, fmt.Sprintf("Edit Ticket #%s", ticket.TicketID), false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, "Save", false, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:          slack.Blocks{BlockSet: buildModalBlocks(fields, ticket, lockStatus)},
	}
}

func viewOnlyModalView(ticket *model.Ticket, fields []model.FieldDescriptor) slack.ModalViewRequest {
	return slack.ModalViewRequest{
		Type:   slack.VTModal,
		Title:  slack.NewTextBlockObject(slack.PlainTextType, fmt.Sprintf("Ticket #%s", ticket.TicketID), false, false),
		Close:  slack.NewTextBlockObject(slack.PlainTextType, "Close", false, false),
		Blocks: slack.Blocks{BlockSet: buildViewOnlyBlocks(fields, ticket)},
	}
}

func templateKeyOf(fields []model.FieldDescriptor) string {
	if len(fields) > 0 && fields[0].TemplateKey != "" {
		return fields[0].TemplateKey
	}
	return model.DefaultTemplateKey
}

func (h *Handler) handleViewSubmission(w http.ResponseWriter, callback *slack.InteractionCallback) {
	if callback.View.CallbackID != ticketEditModalCallbackID {
		w.WriteHeader(http.StatusOK)
		return
	}

	var meta modalMetadata
	if err := json.Unmarshal([]byte(callback.View.PrivateMetadata), &meta); err != nil {
		slog.Error("unmarshal modal metadata failed", slog.Any("err", err))
		w.WriteHeader(http.StatusOK)
		return
	}

	fields, err := h.ds.GetFieldTemplate(meta.TemplateKey)
	if err != nil || len(fields) == 0 {
		fields = model.DefaultTemplate()
	}

	ticket, err := h.tickets.GetTicket(meta.TicketID)
	if err != nil || ticket == nil {
		writeSubmissionErrors(w, fields, fmt.Sprintf("Ticket #%s no longer exists.", meta.TicketID))
		return
	}

	userID := callback.User.ID
	if !h.perms.IsAdmin(userID, ticket.ChannelID) && !h.perms.IsCreator(userID, ticket) {
		writeSubmissionErrors(w, fields, "Only channel admins or the ticket requester can update this ticket.")
		return
	}

	stateValues := map[string]map[string]slack.BlockAction{}
	if callback.View.State != nil {
		stateValues = callback.View.State.Values
	}
	values := extractModalValues(stateValues, fields, meta.StatusLocked)
	form, custom := h.formFromValues(ticket, fields, values, meta.StatusLocked)

	if err := h.tickets.UpdateFromForm(meta.TicketID, form, custom); err != nil {
		slog.Error("UpdateFromForm failed", slog.Any("err", err), slog.String("ticket_id", meta.TicketID))
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			writeSubmissionErrors(w, fields, "Invalid status value.")
		case errors.Is(err, service.ErrInvalidPriority):
			writeSubmissionErrors(w, fields, "Invalid priority value.")
		default:
			writeSubmissionErrors(w, fields, "Failed to update the ticket. Please try again.")
		}
		return
	}

	// Ack the modal first, then bring the rendered views in line with
	// what was just written.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(slack.NewClearViewSubmissionResponse()); err != nil {
		slog.Error("encode submission response failed", slog.Any("err", err))
	}

	go func() {
		h.refreshTicketViews(meta.TicketID)
		if h.notifyOnModalSubmit {
			h.notifyTicketThread(meta.TicketID, fmt.Sprintf("📝 Ticket #%s was updated by <@%s>.", meta.TicketID, userID))
		}
	}()
}

// formFromValues maps extracted modal values onto the service form,
// resolving user selects to display names and carrying locked or
// omitted values through from the stored ticket. The returned custom
// map is the full replacement for the custom-fields column.
func (h *Handler) formFromValues(ticket *model.Ticket, fields []model.FieldDescriptor, values map[string]string, statusLocked bool) (service.FormValues, map[string]string) {
	form := service.FormValues{
		Requester:   ticket.Requester,
		Status:      ticket.Status,
		Assignee:    ticket.Assignee,
		Priority:    ticket.Priority,
		Description: ticket.Description,
	}

	// Stored identity keys survive the full custom replace. The creator
	// key in particular never moves after creation.
	custom := map[string]string{}
	stored := ticket.CustomFields()
	if id := stored[model.CustomFieldRequesterID]; id != "" {
		custom[model.CustomFieldRequesterID] = id
	}
	if id := stored[model.CustomFieldAssigneeID]; id != "" {
		custom[model.CustomFieldAssigneeID] = id
	}

	for _, f := range fields {
		v, ok := values[f.FieldID]
		if !ok {
			continue
		}
		switch f.FieldID {
		case model.FieldRequester:
			if f.Type == model.FieldTypeUserSelect && v != "" {
				if custom[model.CustomFieldRequesterID] == "" {
					custom[model.CustomFieldRequesterID] = v
				}
				form.Requester = "@" + h.getUserDisplayName(v)
			} else {
				form.Requester = v
			}
		case model.FieldStatus:
			if !statusLocked {
				form.Status = v
			}
		case model.FieldAssignee:
			if f.Type == model.FieldTypeUserSelect && v != "" {
				custom[model.CustomFieldAssigneeID] = v
				form.Assignee = "@" + h.getUserDisplayName(v)
			} else {
				form.Assignee = v
			}
		case model.FieldPriority:
			form.Priority = v
		case model.FieldDescription:
			form.Description = v
		default:
			custom[f.FieldID] = v
		}
	}
	return form, custom
}

// writeSubmissionErrors anchors the message to the description input,
// or the first field when the template has no description.
func writeSubmissionErrors(w http.ResponseWriter, fields []model.FieldDescriptor, message string) {
	blockID := model.FieldDescription
	hasDescription := false
	for _, f := range fields {
		if f.FieldID == model.FieldDescription {
			hasDescription = true
			break
		}
	}
	if !hasDescription && len(fields) > 0 {
		blockID = fields[0].FieldID
	}

	w.Header().Set("Content-Type", "application/json")
	resp := slack.NewErrorsViewSubmissionResponse(map[string]string{blockID: message})
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode submission errors failed", slog.Any("err", err))
	}
}

func (h *Handler) setTicketStatus(callback *slack.InteractionCallback, ticketID, status string) {
	userID := callback.User.ID

	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil || ticket == nil {
		h.postEphemeral(callback, fmt.Sprintf("Ticket #%s was not found.", ticketID))
		return
	}
	if !h.perms.IsAdmin(userID, ticket.ChannelID) {
		h.postEphemeral(callback, "Only channel admins can change ticket status.")
		return
	}
	if err := h.tickets.UpdateStatus(ticketID, status); err != nil {
		slog.Error("UpdateStatus failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
		h.postEphemeral(callback, fmt.Sprintf("Failed to update Ticket #%s.", ticketID))
		return
	}

	verb := "reopened"
	if status == model.StatusClosed {
		verb = "closed"
	}
	h.notifyTicketThread(ticketID, fmt.Sprintf("✅ Ticket #%s has been %s by <@%s>.", ticketID, verb, userID))
	h.refreshTicketViews(ticketID)
}

func (h *Handler) toggleTicketStatus(callback *slack.InteractionCallback, ticketID string) {
	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil || ticket == nil {
		h.postEphemeral(callback, fmt.Sprintf("Ticket #%s was not found.", ticketID))
		return
	}
	next := model.StatusClosed
	if ticket.Status == model.StatusClosed {
		next = model.StatusOpen
	}
	h.setTicketStatus(callback, ticketID, next)
}

func (h *Handler) assignTicketToSelf(callback *slack.InteractionCallback, ticketID string) {
	userID := callback.User.ID

	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil || ticket == nil {
		h.postEphemeral(callback, fmt.Sprintf("Ticket #%s was not found.", ticketID))
		return
	}
	if !h.perms.IsAdmin(userID, ticket.ChannelID) {
		h.postEphemeral(callback, "Only channel admins can assign tickets.")
		return
	}

	name := h.getUserDisplayName(userID)
	if err := h.tickets.UpdateAssignee(ticketID, "@"+name, userID); err != nil {
		slog.Error("UpdateAssignee failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
		h.postEphemeral(callback, fmt.Sprintf("Failed to assign Ticket #%s.", ticketID))
		return
	}

	h.notifyTicketThread(ticketID, fmt.Sprintf("👤 Ticket #%s assigned to <@%s>.", ticketID, userID))
	h.refreshTicketViews(ticketID)
}

func (h *Handler) postEphemeral(callback *slack.InteractionCallback, text string) {
	if _, err := h.client.PostEphemeral(
		callback.Channel.ID,
		callback.User.ID,
		slack.MsgOptionText(text, false),
	); err != nil {
		slog.Error("PostEphemeral failed", slog.Any("err", err))
	}
}
