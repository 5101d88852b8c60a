package handler

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomock "go.uber.org/mock/gomock"

	"github.com/fixkar/hubble/domain/model"
	"github.com/fixkar/hubble/domain/service"
)

func createTimeStamp() int64 {
	return time.Now().Unix()
}

func createSlackSignature(timestamp int64, msgBody string) string {
	body := fmt.Sprintf("v0:%s:%s", strconv.FormatInt(timestamp, 10), msgBody)
	hash := hmac.New(sha256.New, []byte(os.Getenv("SLACK_SIGNING_SECRET")))
	hash.Write([]byte(body))
	return "v0=" + hex.EncodeToString(hash.Sum(nil))
}

func signedRequest(t *testing.T, target, body, contentType string) *http.Request {
	t.Helper()
	ts := createTimeStamp()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("X-Slack-Signature", createSlackSignature(ts, body))
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(ts, 10))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	t.Setenv("SLACK_SIGNING_SECRET", "test_signing_secret")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	h, err := NewHandler()
	require.NoError(t, err)
	return h
}

func TestHandler_handleSlackEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := NewMockSlackAPI(ctrl)

	h := newTestHandler(t)
	h.client = mockClient

	body := `{"type":"url_verification","challenge":"test_challenge"}`
	req := signedRequest(t, "/slack/events", body, "application/json")
	rr := httptest.NewRecorder()

	h.HandleSlackEvents(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "test_challenge", rr.Body.String())
	if !ctrl.Satisfied() {
		t.Errorf("Not all expectations were met")
	}
}

func TestHandler_handleSlackEvents_badSignature(t *testing.T) {
	h := newTestHandler(t)

	body := `{"type":"url_verification","challenge":"test_challenge"}`
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	req.Header.Set("X-Slack-Request-Timestamp", strconv.FormatInt(createTimeStamp(), 10))
	rr := httptest.NewRecorder()

	h.HandleSlackEvents(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandler_createTicketFromMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := NewMockSlackAPI(ctrl)
	mockClient.EXPECT().GetUserInfo("U1").Return(&slack.User{Name: "alice"}, nil).Times(1)
	mockClient.EXPECT().PostMessage("C1", gomock.Any(), gomock.Any(), gomock.Any()).Return("C1", "100.000200", nil).Times(1)

	h := newTestHandler(t)
	h.client = mockClient

	err := h.createTicketFromMessage(&slackevents.MessageEvent{
		User:      "U1",
		Channel:   "C1",
		Text:      "my laptop will not boot",
		TimeStamp: "1712345678.000200",
	})
	require.NoError(t, err)

	tickets, err := h.tickets.GetAllTickets()
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "1", tickets[0].TicketID)
	assert.Equal(t, "@alice", tickets[0].Requester)
	assert.Equal(t, "U1", tickets[0].CreatorID())
	assert.Equal(t, model.StatusOpen, tickets[0].Status)
}

func TestHandler_createTicketMirrorsToInternalChannel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := NewMockSlackAPI(ctrl)
	mockClient.EXPECT().GetUserInfo("U1").Return(&slack.User{Name: "alice"}, nil).Times(1)
	// Thread confirmation, then the dashboard card.
	mockClient.EXPECT().PostMessage("C1", gomock.Any(), gomock.Any(), gomock.Any()).Return("C1", "100.000200", nil).Times(1)
	mockClient.EXPECT().PostMessage("CINT", gomock.Any(), gomock.Any()).Return("CINT", "200.000300", nil).Times(1)

	h := newTestHandler(t)
	h.client = mockClient

	require.NoError(t, h.ds.SaveChannelConfig(&model.ChannelConfig{
		ChannelID:         "C1",
		InternalChannelID: "CINT",
	}))

	err := h.createTicketFromMessage(&slackevents.MessageEvent{
		User:      "U1",
		Channel:   "C1",
		Text:      "need a new badge",
		TimeStamp: "1712345678.000200",
	})
	require.NoError(t, err)

	ticket, err := h.tickets.GetTicket("1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	channelID, messageTS, err := model.DecodeInternalRef(ticket.InternalRef)
	require.NoError(t, err)
	assert.Equal(t, "CINT", channelID)
	assert.Equal(t, "200.000300", messageTS)
}

func interactionPayload(t *testing.T, callback any) string {
	t.Helper()
	b, err := json.Marshal(callback)
	require.NoError(t, err)
	form := url.Values{}
	form.Set("payload", string(b))
	return form.Encode()
}

func TestHandler_modalSubmissionDeniedForStranger(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	h := newTestHandler(t)
	h.client = NewMockSlackAPI(ctrl)

	require.NoError(t, h.ds.AppendTicket(&model.Ticket{
		TicketID:         "1",
		Status:           model.StatusOpen,
		Priority:         "MEDIUM",
		Description:      "wifi drops",
		ChannelID:        "C1",
		CustomFieldsJSON: `{"requester_id":"U1"}`,
	}))

	meta := `{"ticket_id":"1","template_key":"default","channel_id":"C1","status_locked":false}`
	payload := map[string]any{
		"type": "view_submission",
		"user": map[string]string{"id": "U999"},
		"view": map[string]any{
			"callback_id":      ticketEditModalCallbackID,
			"private_metadata": meta,
			"state":            map[string]any{"values": map[string]any{}},
		},
	}

	body := interactionPayload(t, payload)
	req := signedRequest(t, "/slack/interactive", body, "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	h.HandleInteractions(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		ResponseAction string            `json:"response_action"`
		Errors         map[string]string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "errors", resp.ResponseAction)
	assert.Contains(t, resp.Errors[model.FieldDescription], "Only channel admins")

	// Nothing was written.
	ticket, err := h.tickets.GetTicket("1")
	require.NoError(t, err)
	assert.Equal(t, "wifi drops", ticket.Description)
	assert.Equal(t, model.StatusOpen, ticket.Status)
}

func TestHandler_modalSubmissionByAdmin(t *testing.T) {
	t.Setenv("ADMIN_USER_IDS", "UADMIN")

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := NewMockSlackAPI(ctrl)

	h := newTestHandler(t)
	h.client = mockClient

	require.NoError(t, h.ds.AppendTicket(&model.Ticket{
		TicketID:         "1",
		Status:           model.StatusOpen,
		Priority:         "MEDIUM",
		Requester:        "@alice",
		Description:      "wifi drops",
		ChannelID:        "C1",
		CustomFieldsJSON: `{"requester_id":"U1"}`,
	}))

	meta := `{"ticket_id":"1","template_key":"default","channel_id":"C1","status_locked":false}`
	payload := map[string]any{
		"type": "view_submission",
		"user": map[string]string{"id": "UADMIN"},
		"view": map[string]any{
			"callback_id":      ticketEditModalCallbackID,
			"private_metadata": meta,
			"state": map[string]any{"values": map[string]any{
				"status":      map[string]any{"status_select": map[string]any{"selected_option": map[string]any{"value": "Closed"}}},
				"priority":    map[string]any{"priority_select": map[string]any{"selected_option": map[string]any{"value": "high"}}},
				"description": map[string]any{"description_input": map[string]any{"value": "was a dhcp outage"}},
			}},
		},
	}

	body := interactionPayload(t, payload)
	req := signedRequest(t, "/slack/interactive", body, "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	h.HandleInteractions(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"clear"`)

	ticket, err := h.tickets.GetTicket("1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, ticket.Status)
	assert.Equal(t, "HIGH", ticket.Priority)
	assert.Equal(t, "was a dhcp outage", ticket.Description)
	// The creator identity survives the full custom-field replace.
	assert.Equal(t, "U1", ticket.CreatorID())
}

func TestHandler_closeButtonRequiresAdmin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := NewMockSlackAPI(ctrl)
	mockClient.EXPECT().PostEphemeral("C1", "U999", gomock.Any()).Return("ts", nil).Times(1)

	h := newTestHandler(t)
	h.client = mockClient

	require.NoError(t, h.ds.AppendTicket(&model.Ticket{
		TicketID:  "1",
		Status:    model.StatusOpen,
		Priority:  "LOW",
		ChannelID: "C1",
	}))

	callback := &slack.InteractionCallback{
		Type: slack.InteractionTypeBlockActions,
		User: slack.User{ID: "U999"},
	}
	callback.Channel.ID = "C1"
	callback.ActionCallback.BlockActions = []*slack.BlockAction{
		{ActionID: "close_ticket", Value: "1"},
	}

	h.handleBlockActions(callback)

	ticket, err := h.tickets.GetTicket("1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, ticket.Status)
}

func TestHandler_commandTicketStatus(t *testing.T) {
	h := newTestHandler(t)

	require.NoError(t, h.ds.AppendTicket(&model.Ticket{
		TicketID:  "5",
		Status:    model.StatusOpen,
		Priority:  "HIGH",
		Requester: "@alice",
		ChannelID: "C1",
	}))

	form := url.Values{}
	form.Set("command", "/ticket-status")
	form.Set("text", "5")
	form.Set("user_id", "U1")
	form.Set("channel_id", "C1")
	body := form.Encode()

	req := signedRequest(t, "/slack/commands", body, "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	h.HandleCommands(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Ticket #5")
	assert.Contains(t, rr.Body.String(), "HIGH")
}

func TestHandler_commandUpdateTicketRequiresAdmin(t *testing.T) {
	h := newTestHandler(t)

	require.NoError(t, h.ds.AppendTicket(&model.Ticket{
		TicketID:  "5",
		Status:    model.StatusOpen,
		Priority:  "LOW",
		ChannelID: "C1",
	}))

	form := url.Values{}
	form.Set("command", "/update-ticket")
	form.Set("text", "5 Closed")
	form.Set("user_id", "U999")
	form.Set("channel_id", "C1")
	body := form.Encode()

	req := signedRequest(t, "/slack/commands", body, "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	h.HandleCommands(rr, req)

	assert.Contains(t, rr.Body.String(), "Only channel admins")
	ticket, _ := h.tickets.GetTicket("5")
	assert.Equal(t, model.StatusOpen, ticket.Status)
}

func TestHandler_firstResponseRecordedOnce(t *testing.T) {
	t.Setenv("SLACK_WORKSPACE_URL", "https://acme.slack.com")

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockClient := NewMockSlackAPI(ctrl)
	mockClient.EXPECT().PostMessage("C1", gomock.Any(), gomock.Any()).Return("C1", "ts", nil).Times(1)

	h := newTestHandler(t)
	h.client = mockClient

	_, err := h.tickets.CreateTicket(service.CreateTicketInput{
		Description: "x",
		RequesterID: "U1",
		ChannelID:   "C1",
		ThreadTS:    "1712345678.000200",
	})
	require.NoError(t, err)

	reply := &slackevents.MessageEvent{
		User:            "U2",
		Channel:         "C1",
		Text:            "looking into it",
		TimeStamp:       "1712345679.000300",
		ThreadTimeStamp: "1712345678.000200",
	}
	h.handleThreadReply(reply)

	ticket, err := h.tickets.FindByThreadTS("1712345678.000200")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.True(t, strings.Contains(ticket.FirstResponse, "looking into it"))

	// A second reply neither rewrites the record nor posts again.
	h.handleThreadReply(&slackevents.MessageEvent{
		User:            "U3",
		Channel:         "C1",
		Text:            "me too",
		TimeStamp:       "1712345680.000400",
		ThreadTimeStamp: "1712345678.000200",
	})
	after, _ := h.tickets.FindByThreadTS("1712345678.000200")
	assert.Equal(t, ticket.FirstResponse, after.FirstResponse)
}

func TestHandler_health(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	h.HandleHealth(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"healthy"`)
}

func TestHandler_ticketsAPI(t *testing.T) {
	h := newTestHandler(t)

	require.NoError(t, h.ds.AppendTicket(&model.Ticket{TicketID: "1", Status: model.StatusOpen, Priority: "LOW"}))

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	rr := httptest.NewRecorder()

	h.HandleTickets(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var tickets []model.Ticket
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tickets))
	require.Len(t, tickets, 1)
	assert.Equal(t, "1", tickets[0].TicketID)
}
