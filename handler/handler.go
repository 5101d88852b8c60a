package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/fixkar/hubble/domain/infra"
	"github.com/fixkar/hubble/domain/model"
	"github.com/fixkar/hubble/domain/service"
)

var targetChannel = os.Getenv("TARGET_CHANNEL_ID")

type Handler struct {
	client        infra.SlackAPI
	ds            infra.Datastore
	tickets       *service.TicketService
	perms         *service.Permissions
	ai            *infra.OpenAI
	userInfoCache *ttlcache.Cache[string, *slack.User]
	botID         string

	// Whether a plain modal submit posts a change notification to the
	// origin thread. Off by default: silent update.
	notifyOnModalSubmit bool
}

func NewHandler() (*Handler, error) {
	var ds infra.Datastore
	var err error
	if os.Getenv("DB_DRIVER") == "dynamodb" {
		ds, err = infra.NewDynamoDB()
		if err != nil {
			return nil, err
		}
	} else {
		ds, err = infra.NewDataBase()
		if err != nil {
			return nil, err
		}
	}

	ai, err := infra.NewOpenAI()
	if err != nil {
		slog.Warn("OpenAI client unavailable, digest disabled", slog.Any("err", err))
	}

	api := slack.New(os.Getenv("SLACK_BOT_TOKEN"))
	h := &Handler{
		client:              api,
		ds:                  ds,
		tickets:             service.NewTicketService(ds),
		perms:               service.NewPermissions(ds),
		ai:                  ai,
		userInfoCache:       ttlcache.New(ttlcache.WithTTL[string, *slack.User](24 * time.Hour)),
		notifyOnModalSubmit: os.Getenv("NOTIFY_ON_MODAL_SUBMIT") == "true",
	}
	go h.userInfoCache.Start()
	return h, nil
}

// verifyRequest checks the Slack request signature. The body is put
// back on the request so form parsing downstream still works.
func (h *Handler) verifyRequest(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	verifier, err := slack.NewSecretsVerifier(r.Header, os.Getenv("SLACK_SIGNING_SECRET"))
	if err != nil {
		return nil, fmt.Errorf("NewSecretsVerifier failed: %w", err)
	}
	if _, err := verifier.Write(body); err != nil {
		return nil, err
	}
	if err := verifier.Ensure(); err != nil {
		return nil, fmt.Errorf("signature mismatch: %w", err)
	}
	return body, nil
}

// HandleSlackEvents serves POST /slack/events.
func (h *Handler) HandleSlackEvents(w http.ResponseWriter, r *http.Request) {
	body, err := h.verifyRequest(r)
	if err != nil {
		slog.Error("verifyRequest failed", slog.Any("err", err))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		slog.Error("ParseEvent failed", slog.Any("err", err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var res slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &res); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, res.Challenge)
		return
	case slackevents.CallbackEvent:
		switch ev := event.InnerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			h.handleMessageEvent(ev)
		default:
			slog.Debug("skipped inner event", slog.String("type", event.InnerEvent.Type))
		}
	default:
		slog.Warn("Unsupported EventsAPIEvent type", slog.Any("type", event.Type))
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleMessageEvent(ev *slackevents.MessageEvent) {
	// Our own posts come back as events too.
	if ev.BotID != "" || ev.User == "" || ev.SubType != "" || ev.User == h.getBotUserID() {
		return
	}

	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		h.handleThreadReply(ev)
		return
	}

	if !h.isTrackedChannel(ev.Channel) || ev.Text == "" {
		return
	}

	// The event is acked before any of this lands; creation is
	// best-effort in the background and failures are only logged.
	go func() {
		if err := h.createTicketFromMessage(ev); err != nil {
			slog.Error("createTicketFromMessage failed", slog.Any("err", err), slog.String("channel", ev.Channel))
		}
	}()
}

// isTrackedChannel: any configured channel takes tickets, plus the
// legacy single TARGET_CHANNEL_ID.
func (h *Handler) isTrackedChannel(channelID string) bool {
	if channelID == targetChannel && channelID != "" {
		return true
	}
	cfg, err := h.ds.GetChannelConfig(channelID)
	if err != nil {
		slog.Error("GetChannelConfig failed", slog.Any("err", err))
		return false
	}
	return cfg != nil
}

func (h *Handler) createTicketFromMessage(ev *slackevents.MessageEvent) error {
	name := h.getUserDisplayName(ev.User)

	id, err := h.tickets.CreateTicket(service.CreateTicketInput{
		Description:   ev.Text,
		RequesterID:   ev.User,
		RequesterName: "@" + name,
		ThreadTS:      ev.TimeStamp,
		ChannelID:     ev.Channel,
	})
	if err != nil {
		return fmt.Errorf("CreateTicket failed: %w", err)
	}

	text, blocks := ticketCreatedMessage(id)
	if _, _, err := h.client.PostMessage(
		ev.Channel,
		slack.MsgOptionTS(ev.TimeStamp),
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	); err != nil {
		slog.Error("failed to post ticket confirmation", slog.Any("err", err), slog.String("ticket_id", id))
	}

	h.mirrorToInternalChannel(id)
	return nil
}

// mirrorToInternalChannel posts the dashboard card for a fresh ticket
// and remembers where it landed. Best effort.
func (h *Handler) mirrorToInternalChannel(ticketID string) {
	ticket, err := h.tickets.GetTicket(ticketID)
	if err != nil || ticket == nil {
		slog.Error("GetTicket failed for internal mirror", slog.Any("err", err), slog.String("ticket_id", ticketID))
		return
	}
	cfg, err := h.ds.GetChannelConfig(ticket.ChannelID)
	if err != nil {
		slog.Error("GetChannelConfig failed", slog.Any("err", err))
		return
	}
	if cfg == nil || cfg.InternalChannelID == "" {
		return
	}

	fields := h.fieldTemplateFor(ticket.ChannelID)
	text, blocks := formatTicketCard(ticket, fields, true)
	_, ts, err := h.client.PostMessage(
		cfg.InternalChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		slog.Error("failed to post dashboard card", slog.Any("err", err), slog.String("ticket_id", ticketID))
		return
	}
	if err := h.tickets.SetInternalRef(ticketID, cfg.InternalChannelID, ts); err != nil {
		slog.Error("SetInternalRef failed", slog.Any("err", err), slog.String("ticket_id", ticketID))
	}
}

func (h *Handler) handleThreadReply(ev *slackevents.MessageEvent) {
	ticket, err := h.tickets.FindByThreadTS(ev.ThreadTimeStamp)
	if err != nil {
		slog.Error("FindByThreadTS failed", slog.Any("err", err))
		return
	}
	if ticket == nil || ticket.FirstResponse != "" {
		return
	}
	if err := h.tickets.RecordFirstResponse(ticket.TicketID, ev.Text, ev.User); err != nil {
		slog.Error("RecordFirstResponse failed", slog.Any("err", err), slog.String("ticket_id", ticket.TicketID))
		return
	}
	if _, _, err := h.client.PostMessage(
		ev.Channel,
		slack.MsgOptionTS(ev.ThreadTimeStamp),
		slack.MsgOptionText(fmt.Sprintf("✅ First response recorded for Ticket #%s", ticket.TicketID), false),
	); err != nil {
		slog.Error("failed to post first-response note", slog.Any("err", err))
	}
}

// fieldTemplateFor resolves the channel's field template, falling back
// to the built-in default whenever config or template lookups come up
// empty. A channel may also narrow the priority choices.
func (h *Handler) fieldTemplateFor(channelID string) []model.FieldDescriptor {
	templateKey := model.DefaultTemplateKey
	cfg, err := h.ds.GetChannelConfig(channelID)
	if err != nil {
		slog.Error("GetChannelConfig failed", slog.Any("err", err))
	} else if cfg != nil && cfg.TemplateKey != "" {
		templateKey = cfg.TemplateKey
	}

	fields, err := h.ds.GetFieldTemplate(templateKey)
	if err != nil {
		slog.Error("GetFieldTemplate failed", slog.Any("err", err), slog.String("template", templateKey))
	}
	if len(fields) == 0 {
		fields = model.DefaultTemplate()
	}

	if cfg != nil && cfg.Priorities != "" {
		for i := range fields {
			if fields[i].FieldID == model.FieldPriority {
				fields[i].Options = cfg.Priorities
			}
		}
	}
	return fields
}

func getUserPreferredName(user *slack.User) string {
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	if user.RealName != "" {
		return user.RealName
	}
	return user.Name
}

// getUserDisplayName is the best-effort identity resolver. It never
// fails: unknown or unreachable users render as "Unknown".
func (h *Handler) getUserDisplayName(userID string) string {
	if userID == "" {
		return "Unknown"
	}
	user, err := h.getUserInfo(userID)
	if err != nil {
		slog.Error("GetUserInfo failed", slog.Any("err", err), slog.String("user", userID))
		return "Unknown"
	}
	return getUserPreferredName(user)
}

func (h *Handler) getUserInfo(userID string) (*slack.User, error) {
	cacheKey := "user_" + userID
	if user := h.userInfoCache.Get(cacheKey); user != nil {
		return user.Value(), nil
	}
	user, err := h.client.GetUserInfo(userID)
	if err != nil {
		return nil, err
	}
	h.userInfoCache.Set(cacheKey, user, ttlcache.DefaultTTL)
	return user, nil
}

func (h *Handler) getBotUserID() string {
	if h.botID == "" {
		authResp, err := h.client.AuthTest()
		if err != nil {
			slog.Error("Failed to get bot user ID", slog.Any("err", err))
			return ""
		}
		h.botID = authResp.UserID
	}
	return h.botID
}

// HandleTickets serves GET /tickets, a JSON dump of every ticket.
func (h *Handler) HandleTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.tickets.GetAllTickets()
	if err != nil {
		slog.Error("GetAllTickets failed", slog.Any("err", err))
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"internal server error"}`)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tickets); err != nil {
		slog.Error("encode tickets failed", slog.Any("err", err))
	}
}

// HandleHealth serves GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"environment_variables": map[string]bool{
			"SLACK_BOT_TOKEN":      os.Getenv("SLACK_BOT_TOKEN") != "",
			"SLACK_SIGNING_SECRET": os.Getenv("SLACK_SIGNING_SECRET") != "",
			"TARGET_CHANNEL_ID":    os.Getenv("TARGET_CHANNEL_ID") != "",
			"ADMIN_USER_IDS":       os.Getenv("ADMIN_USER_IDS") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(status); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(buf.Bytes())
}
