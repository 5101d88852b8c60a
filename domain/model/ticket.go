package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	StatusOpen   = "Open"
	StatusClosed = "Closed"
)

// Priorities are stored upper-case; input is accepted case-insensitively.
var ValidPriorities = []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}

const DefaultPriority = "MEDIUM"

// Custom-field keys that carry the raw Slack user IDs behind the
// display-name columns. The display columns are free text and can be
// overwritten from the edit modal, so these are the only reliable
// identities.
const (
	CustomFieldRequesterID = "requester_id"
	CustomFieldAssigneeID  = "assignee_id"
)

// Column identifies one logical field of the ticket row. The order of
// TicketColumns is the physical column order of the backing store and
// the order in which field-level updates are applied.
type Column string

const (
	ColTicketID      Column = "ticket_id"
	ColThreadLink    Column = "thread_link"
	ColRequester     Column = "requester_display"
	ColStatus        Column = "status"
	ColPriority      Column = "priority"
	ColAssignee      Column = "assignee_display"
	ColCreatedAt     Column = "created_at"
	ColFirstResponse Column = "first_response"
	ColResolvedAt    Column = "resolved_at"
	ColDescription   Column = "description"
	ColChannelID     Column = "channel_id"
	ColChannelName   Column = "channel_name"
	ColCustomFields  Column = "custom_fields_json"
	ColInternalRef   Column = "internal_message_ref"
)

var TicketColumns = []Column{
	ColTicketID,
	ColThreadLink,
	ColRequester,
	ColStatus,
	ColPriority,
	ColAssignee,
	ColCreatedAt,
	ColFirstResponse,
	ColResolvedAt,
	ColDescription,
	ColChannelID,
	ColChannelName,
	ColCustomFields,
	ColInternalRef,
}

// Ticket is the latest state of one helpdesk ticket. All values are
// stored as strings; timestamps use "2006-01-02 15:04:05". Empty means
// unset.
type Ticket struct {
	TicketID         string `json:"ticket_id"`
	ThreadLink       string `json:"thread_link"`
	Requester        string `json:"requester"` // display name, free text
	Status           string `json:"status"`
	Priority         string `json:"priority"`
	Assignee         string `json:"assignee"` // display name, free text
	CreatedAt        string `json:"created_at"`
	FirstResponse    string `json:"first_response"`
	ResolvedAt       string `json:"resolved_at"`
	Description      string `json:"description"`
	ChannelID        string `json:"channel_id"`
	ChannelName      string `json:"channel_name"`
	CustomFieldsJSON string `json:"custom_fields_json"`
	InternalRef      string `json:"internal_message_ref"` // "channelID|messageTS"
}

func (t *Ticket) Field(c Column) string {
	switch c {
	case ColTicketID:
		return t.TicketID
	case ColThreadLink:
		return t.ThreadLink
	case ColRequester:
		return t.Requester
	case ColStatus:
		return t.Status
	case ColPriority:
		return t.Priority
	case ColAssignee:
		return t.Assignee
	case ColCreatedAt:
		return t.CreatedAt
	case ColFirstResponse:
		return t.FirstResponse
	case ColResolvedAt:
		return t.ResolvedAt
	case ColDescription:
		return t.Description
	case ColChannelID:
		return t.ChannelID
	case ColChannelName:
		return t.ChannelName
	case ColCustomFields:
		return t.CustomFieldsJSON
	case ColInternalRef:
		return t.InternalRef
	}
	return ""
}

// CustomFields parses the custom-fields JSON column. A broken or empty
// blob yields an empty map, never an error: old rows predate the
// column.
func (t *Ticket) CustomFields() map[string]string {
	fields := map[string]string{}
	if t.CustomFieldsJSON == "" {
		return fields
	}
	if err := json.Unmarshal([]byte(t.CustomFieldsJSON), &fields); err != nil {
		return map[string]string{}
	}
	return fields
}

func EncodeCustomFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}

// CreatorID recovers the permission-bearing identity of the requester.
// The display column is free text and must never be used for identity
// checks, so the raw user ID stored in the custom fields wins; the
// display column counts only when it is itself a raw ID.
func (t *Ticket) CreatorID() string {
	if id := t.CustomFields()[CustomFieldRequesterID]; id != "" {
		return id
	}
	if IsRawUserID(t.Requester) {
		return t.Requester
	}
	return ""
}

// AssigneeID recovers the assignee's raw user ID, if one was ever
// recorded.
func (t *Ticket) AssigneeID() string {
	if id := t.CustomFields()[CustomFieldAssigneeID]; id != "" {
		return id
	}
	if IsRawUserID(t.Assignee) {
		return t.Assignee
	}
	return ""
}

// IsRawUserID reports whether s looks like a bare Slack user ID rather
// than a display name.
func IsRawUserID(s string) bool {
	return strings.HasPrefix(s, "U") && !strings.ContainsAny(s, "@ ")
}

// NormalizePriority canonicalizes a priority to upper-case, validating
// it against the fixed set. Every write path goes through this.
func NormalizePriority(p string) (string, error) {
	up := strings.ToUpper(strings.TrimSpace(p))
	for _, v := range ValidPriorities {
		if up == v {
			return up, nil
		}
	}
	return "", fmt.Errorf("invalid priority: %s", p)
}

func ValidStatus(s string) bool {
	return s == StatusOpen || s == StatusClosed
}

// ThreadLink builds the permalink for the origin thread,
// e.g. https://acme.slack.com/archives/C123/p1754311679452949.
func ThreadLink(workspaceURL, channelID, threadTS string) string {
	if threadTS == "" || channelID == "" {
		return ""
	}
	return fmt.Sprintf("%s/archives/%s/p%s", workspaceURL, channelID, strings.ReplaceAll(threadTS, ".", ""))
}

// ThreadTSFromLink recovers the thread timestamp from a permalink by
// re-inserting the decimal point Slack strips out of the URL form.
func ThreadTSFromLink(link string) string {
	idx := strings.LastIndex(link, "/p")
	if idx < 0 {
		return ""
	}
	raw := link[idx+2:]
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if len(raw) <= 10 {
		return ""
	}
	return raw[:10] + "." + raw[10:]
}

// InternalRef packs the dashboard-card location into one column.
func EncodeInternalRef(channelID, messageTS string) string {
	if channelID == "" || messageTS == "" {
		return ""
	}
	return channelID + "|" + messageTS
}

func DecodeInternalRef(ref string) (channelID, messageTS string, err error) {
	parts := strings.SplitN(ref, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid internal ref: %q", ref)
	}
	return parts[0], parts[1], nil
}
