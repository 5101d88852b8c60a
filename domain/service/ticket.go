package service

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/fixkar/hubble/domain/infra"
	"github.com/fixkar/hubble/domain/model"
)

var (
	ErrInvalidStatus   = errors.New("invalid status")
	ErrInvalidPriority = errors.New("invalid priority")
)

// TicketService wraps the Datastore with the ticket domain rules:
// identifier allocation, status transitions, and field-update
// orchestration. Permission checks live in Permissions, not here.
type TicketService struct {
	ds      infra.Datastore
	counter infra.TicketIDCounter
	now     func() time.Time
}

func NewTicketService(ds infra.Datastore) *TicketService {
	s := &TicketService{ds: ds, now: time.Now}
	// Max-scan allocation can race between two instances. Stores that
	// implement an atomic counter may be opted in instead.
	if os.Getenv("TICKET_ID_ALLOCATOR") == "counter" {
		if c, ok := ds.(infra.TicketIDCounter); ok {
			s.counter = c
		} else {
			slog.Warn("TICKET_ID_ALLOCATOR=counter but datastore has no counter, falling back to max-scan")
		}
	}
	return s
}

// NextTicketID allocates the next ticket ID. The default strategy
// derives it from the highest numeric ID currently in the store, so
// concurrent creators can collide; AppendTicket's duplicate check is
// the backstop.
func (s *TicketService) NextTicketID() (string, error) {
	if s.counter != nil {
		n, err := s.counter.NextTicketID()
		if err != nil {
			return "", fmt.Errorf("counter allocation failed: %w", err)
		}
		return strconv.FormatInt(n, 10), nil
	}

	tickets, err := s.ds.GetTickets()
	if err != nil {
		return "", fmt.Errorf("GetTickets failed: %w", err)
	}
	var max int64
	for _, t := range tickets {
		n, err := strconv.ParseInt(t.TicketID, 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return strconv.FormatInt(max+1, 10), nil
}

type CreateTicketInput struct {
	Description   string
	RequesterID   string
	RequesterName string // display name; falls back to "@<id>"
	ThreadTS      string
	ChannelID     string
	Priority      string // empty means MEDIUM
}

// CreateTicket allocates an ID and appends a new Open ticket. The
// requester's raw user ID is kept in the custom fields so the creator
// identity survives later edits of the display column.
func (s *TicketService) CreateTicket(in CreateTicketInput) (string, error) {
	id, err := s.NextTicketID()
	if err != nil {
		return "", err
	}

	priority := in.Priority
	if priority == "" {
		priority = model.DefaultPriority
	}
	priority, err = model.NormalizePriority(priority)
	if err != nil {
		return "", ErrInvalidPriority
	}

	requester := in.RequesterName
	if requester == "" {
		requester = "@" + in.RequesterID
	}

	channelName := in.ChannelID
	assignee := ""
	cfg, err := s.ds.GetChannelConfig(in.ChannelID)
	if err != nil {
		slog.Error("GetChannelConfig failed", slog.Any("err", err), slog.String("channel", in.ChannelID))
	} else if cfg != nil {
		if cfg.ChannelName != "" {
			channelName = cfg.ChannelName
		}
		assignee = cfg.DefaultAssignee
	}

	custom := map[string]string{}
	if in.RequesterID != "" {
		custom[model.CustomFieldRequesterID] = in.RequesterID
	}

	ticket := &model.Ticket{
		TicketID:         id,
		ThreadLink:       model.ThreadLink(os.Getenv("SLACK_WORKSPACE_URL"), in.ChannelID, in.ThreadTS),
		Requester:        requester,
		Status:           model.StatusOpen,
		Priority:         priority,
		Assignee:         assignee,
		CreatedAt:        infra.FormatTime(s.now()),
		Description:      in.Description,
		ChannelID:        in.ChannelID,
		ChannelName:      channelName,
		CustomFieldsJSON: model.EncodeCustomFields(custom),
	}

	if err := s.ds.AppendTicket(ticket); err != nil {
		return "", fmt.Errorf("create ticket %s failed: %w", id, err)
	}
	slog.Info("ticket created", slog.String("ticket_id", id), slog.String("channel", in.ChannelID))
	return id, nil
}

// GetTicket returns (nil, nil) when the ID is unknown.
func (s *TicketService) GetTicket(id string) (*model.Ticket, error) {
	return s.ds.GetTicket(id)
}

func (s *TicketService) GetAllTickets() ([]model.Ticket, error) {
	return s.ds.GetTickets()
}

// UpdateStatus transitions a ticket between Open and Closed, stamping
// resolved_at on close and clearing it on reopen. Status and
// resolved_at are two separate field writes through the store.
func (s *TicketService) UpdateStatus(id, newStatus string) error {
	if !model.ValidStatus(newStatus) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, newStatus)
	}
	ticket, err := s.ds.GetTicket(id)
	if err != nil {
		return err
	}
	if ticket == nil {
		return infra.ErrTicketNotFound
	}

	resolvedAt := ""
	if newStatus == model.StatusClosed {
		resolvedAt = infra.FormatTime(s.now())
	}
	return s.ds.UpdateTicketFields(id, map[model.Column]string{
		model.ColStatus:     newStatus,
		model.ColResolvedAt: resolvedAt,
	})
}

// UpdateAssignee writes the display name and, when a raw user ID is
// known, merges it into the custom fields for later identity recovery.
func (s *TicketService) UpdateAssignee(id, displayName, userID string) error {
	if err := s.ds.UpdateTicketFields(id, map[model.Column]string{
		model.ColAssignee: displayName,
	}); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}
	return s.ds.MergeCustomFields(id, map[string]string{
		model.CustomFieldAssigneeID: userID,
	})
}

func (s *TicketService) UpdatePriority(id, priority string) error {
	canonical, err := model.NormalizePriority(priority)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPriority, priority)
	}
	return s.ds.UpdateTicketFields(id, map[model.Column]string{
		model.ColPriority: canonical,
	})
}

type FormValues struct {
	Requester   string // display name
	Status      string
	Assignee    string // display name
	Priority    string
	Description string
}

// UpdateFromForm bulk-updates the five core display fields and fully
// replaces the custom fields. Callers must include any previously
// stored custom keys they want to keep. The created_at column doubles
// as the last-changed stamp on this path.
func (s *TicketService) UpdateFromForm(id string, form FormValues, custom map[string]string) error {
	if !model.ValidStatus(form.Status) {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, form.Status)
	}
	priority, err := model.NormalizePriority(form.Priority)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPriority, form.Priority)
	}
	ticket, err := s.ds.GetTicket(id)
	if err != nil {
		return err
	}
	if ticket == nil {
		return infra.ErrTicketNotFound
	}

	now := infra.FormatTime(s.now())
	resolvedAt := ""
	if form.Status == model.StatusClosed {
		resolvedAt = now
	}

	return s.ds.UpdateTicketFields(id, map[model.Column]string{
		model.ColRequester:    form.Requester,
		model.ColStatus:       form.Status,
		model.ColPriority:     priority,
		model.ColAssignee:     form.Assignee,
		model.ColCreatedAt:    now,
		model.ColResolvedAt:   resolvedAt,
		model.ColDescription:  form.Description,
		model.ColCustomFields: model.EncodeCustomFields(custom),
	})
}

// RecordFirstResponse records the first thread reply, once. The
// check-then-write leaves a small window where two near-simultaneous
// replies both pass; last write wins, which is acceptable.
func (s *TicketService) RecordFirstResponse(id, text, responderID string) error {
	ticket, err := s.ds.GetTicket(id)
	if err != nil {
		return err
	}
	if ticket == nil {
		return infra.ErrTicketNotFound
	}
	if ticket.FirstResponse != "" {
		return nil
	}
	entry := fmt.Sprintf("%s - %s: %s", infra.FormatTime(s.now()), responderID, text)
	return s.ds.UpdateTicketFields(id, map[model.Column]string{
		model.ColFirstResponse: entry,
	})
}

// SetInternalRef records where the dashboard card for this ticket
// lives so later mutations can refresh it in place.
func (s *TicketService) SetInternalRef(id, channelID, messageTS string) error {
	return s.ds.UpdateTicketFields(id, map[model.Column]string{
		model.ColInternalRef: model.EncodeInternalRef(channelID, messageTS),
	})
}

func (s *TicketService) ClearAllTickets() error {
	return s.ds.ClearAllTickets()
}

// FindByThreadTS locates the ticket whose origin thread matches the
// given timestamp, either directly via the thread link or via the
// link's URL-encoded form.
func (s *TicketService) FindByThreadTS(threadTS string) (*model.Ticket, error) {
	tickets, err := s.ds.GetTickets()
	if err != nil {
		return nil, err
	}
	for i := range tickets {
		if model.ThreadTSFromLink(tickets[i].ThreadLink) == threadTS {
			return &tickets[i], nil
		}
	}
	return nil, nil
}
