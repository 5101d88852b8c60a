package infra

import (
	"errors"
	"time"

	"github.com/fixkar/hubble/domain/model"
)

var (
	// ErrTicketNotFound is returned by update operations when no row
	// matches the ticket ID. Read operations return (nil, nil) instead:
	// absence is an expected case for callers.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrDuplicateTicket is returned by AppendTicket when a row with
	// the same ticket ID already exists. The original row stays
	// authoritative.
	ErrDuplicateTicket = errors.New("ticket already exists")
)

type Datastore interface {
	// AppendTicket physically appends a new row. It never rewrites an
	// existing one.
	AppendTicket(*model.Ticket) error
	// GetTickets returns every ticket de-duplicated by ID, the
	// last-appended row winning. Order follows first physical
	// occurrence.
	GetTickets() ([]model.Ticket, error)
	// GetTicket returns (nil, nil) when the ID is unknown.
	GetTicket(id string) (*model.Ticket, error)
	// UpdateTicketFields writes the given fields one at a time in
	// TicketColumns order, failing fast on the first failed write.
	// There is no atomicity across fields.
	UpdateTicketFields(id string, fields map[model.Column]string) error
	// MergeCustomFields sets keys in the custom-fields JSON without
	// touching unrelated keys.
	MergeCustomFields(id string, partial map[string]string) error
	// ClearAllTickets removes every row. Administrative reset only.
	ClearAllTickets() error

	// GetChannelConfig returns (nil, nil) for unconfigured channels.
	GetChannelConfig(channelID string) (*model.ChannelConfig, error)
	SaveChannelConfig(*model.ChannelConfig) error
	// GetFieldTemplate returns the descriptors for a template key
	// sorted by order, or an empty slice when the key is unknown.
	GetFieldTemplate(templateKey string) ([]model.FieldDescriptor, error)
	SaveFieldTemplate([]model.FieldDescriptor) error
}

// TicketIDCounter is the optional atomic allocation strategy. Stores
// that can hand out collision-free IDs implement it; the service only
// uses it when TICKET_ID_ALLOCATOR=counter.
type TicketIDCounter interface {
	NextTicketID() (int64, error)
}

const timestampLayout = "2006-01-02 15:04:05"

func timeNow() time.Time {
	return time.Now()
}

func FormatTime(t time.Time) string {
	return t.Format(timestampLayout)
}
