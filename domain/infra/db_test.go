package infra

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixkar/hubble/domain/model"
)

func newTestDB(t *testing.T) *DataBase {
	t.Helper()
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	db, err := NewDataBase()
	require.NoError(t, err)
	return db
}

func testTicket(id string) *model.Ticket {
	return &model.Ticket{
		TicketID:    id,
		Status:      model.StatusOpen,
		Priority:    "MEDIUM",
		Requester:   "@alice",
		Description: "printer on fire",
		ChannelID:   "C0001",
		CreatedAt:   "2026-08-01 10:00:00",
	}
}

func TestAppendTicket_duplicate(t *testing.T) {
	db := newTestDB(t)

	assert.NoError(t, db.AppendTicket(testTicket("1")))
	assert.ErrorIs(t, db.AppendTicket(testTicket("1")), ErrDuplicateTicket)
}

func TestGetTickets_dedupeLastRowWins(t *testing.T) {
	db := newTestDB(t)

	// Legacy data can carry several rows per ticket ID. Seed them
	// straight into the log, bypassing the duplicate check.
	rows := []ticketRow{
		{TicketID: "1", Status: "Open", Description: "first"},
		{TicketID: "2", Status: "Open", Description: "other"},
		{TicketID: "1", Status: "Closed", Description: "rewritten"},
	}
	for i := range rows {
		require.NoError(t, db.db.Create(&rows[i]).Error)
	}

	tickets, err := db.GetTickets()
	require.NoError(t, err)
	require.Len(t, tickets, 2)

	// Ticket 1 keeps its first-occurrence position but carries the
	// values of its last row.
	assert.Equal(t, "1", tickets[0].TicketID)
	assert.Equal(t, "Closed", tickets[0].Status)
	assert.Equal(t, "rewritten", tickets[0].Description)
	assert.Equal(t, "2", tickets[1].TicketID)
}

func TestGetTicket_missing(t *testing.T) {
	db := newTestDB(t)

	ticket, err := db.GetTicket("404")
	assert.NoError(t, err)
	assert.Nil(t, ticket)
}

func TestUpdateTicketFields(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendTicket(testTicket("1")))

	err := db.UpdateTicketFields("1", map[model.Column]string{
		model.ColStatus:     model.StatusClosed,
		model.ColResolvedAt: "2026-08-02 09:00:00",
	})
	require.NoError(t, err)

	ticket, err := db.GetTicket("1")
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, model.StatusClosed, ticket.Status)
	assert.Equal(t, "2026-08-02 09:00:00", ticket.ResolvedAt)
	// Untouched fields survive.
	assert.Equal(t, "printer on fire", ticket.Description)
}

func TestUpdateTicketFields_unknownTicket(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdateTicketFields("404", map[model.Column]string{
		model.ColStatus: model.StatusClosed,
	})
	assert.ErrorIs(t, err, ErrTicketNotFound)
}

func TestMergeCustomFields(t *testing.T) {
	db := newTestDB(t)

	ticket := testTicket("1")
	ticket.CustomFieldsJSON = model.EncodeCustomFields(map[string]string{
		"requester_id": "U111",
		"environment":  "staging",
	})
	require.NoError(t, db.AppendTicket(ticket))

	require.NoError(t, db.MergeCustomFields("1", map[string]string{
		"assignee_id": "U222",
		"environment": "production",
	}))

	got, err := db.GetTicket("1")
	require.NoError(t, err)
	fields := got.CustomFields()
	assert.Equal(t, "U111", fields["requester_id"])
	assert.Equal(t, "U222", fields["assignee_id"])
	assert.Equal(t, "production", fields["environment"])

	assert.ErrorIs(t, db.MergeCustomFields("404", map[string]string{"k": "v"}), ErrTicketNotFound)
}

func TestClearAllTickets(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.AppendTicket(testTicket("1")))
	require.NoError(t, db.AppendTicket(testTicket("2")))

	require.NoError(t, db.ClearAllTickets())

	tickets, err := db.GetTickets()
	require.NoError(t, err)
	assert.Empty(t, tickets)
}

func TestNextTicketID(t *testing.T) {
	db := newTestDB(t)

	for want := int64(1); want <= 3; want++ {
		got, err := db.NextTicketID()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestChannelConfigRoundTrip(t *testing.T) {
	db := newTestDB(t)

	cfg, err := db.GetChannelConfig("C0001")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, db.SaveChannelConfig(&model.ChannelConfig{
		ChannelID:    "C0001",
		ChannelName:  "helpdesk",
		AdminUserIDs: "U1,U2",
		TemplateKey:  "it",
	}))

	cfg, err = db.GetChannelConfig("C0001")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "helpdesk", cfg.ChannelName)
	assert.Equal(t, []string{"U1", "U2"}, cfg.AdminIDs())
}

func TestFieldTemplateRoundTrip(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SaveFieldTemplate([]model.FieldDescriptor{
		{TemplateKey: "it", FieldID: "environment", Label: "Environment", Type: model.FieldTypeSelect, Options: "staging,production", Order: 6},
		{TemplateKey: "it", FieldID: "status", Label: "Status", Type: model.FieldTypeSelect, Options: "Open,Closed", Order: 2},
	}))

	fields, err := db.GetFieldTemplate("it")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "status", fields[0].FieldID)
	assert.Equal(t, "environment", fields[1].FieldID)
	assert.Equal(t, []string{"staging", "production"}, fields[1].OptionList())

	fields, err = db.GetFieldTemplate("unknown")
	require.NoError(t, err)
	assert.Empty(t, fields)
}
