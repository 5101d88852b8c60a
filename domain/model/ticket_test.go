package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadLink(t *testing.T) {
	link := ThreadLink("https://example.slack.com", "C0123", "1712345678.000200")
	assert.Equal(t, "https://example.slack.com/archives/C0123/p1712345678000200", link)

	assert.Equal(t, "", ThreadLink("https://example.slack.com", "C0123", ""))
	assert.Equal(t, "", ThreadLink("", "C0123", "1712345678.000200"))
}

func TestThreadTSFromLink(t *testing.T) {
	link := ThreadLink("https://example.slack.com", "C0123", "1712345678.000200")
	assert.Equal(t, "1712345678.000200", ThreadTSFromLink(link))

	assert.Equal(t, "", ThreadTSFromLink("not a link"))
	assert.Equal(t, "", ThreadTSFromLink(""))
}

func TestNormalizePriority(t *testing.T) {
	for in, want := range map[string]string{
		"high":     "HIGH",
		"HIGH":     "HIGH",
		" medium ": "MEDIUM",
		"Critical": "CRITICAL",
		"low":      "LOW",
	} {
		got, err := NormalizePriority(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := NormalizePriority("urgent")
	assert.Error(t, err)
	_, err = NormalizePriority("")
	assert.Error(t, err)
}

func TestCustomFieldsTolerance(t *testing.T) {
	ticket := &Ticket{CustomFieldsJSON: ""}
	assert.Empty(t, ticket.CustomFields())

	ticket.CustomFieldsJSON = "{broken"
	assert.Empty(t, ticket.CustomFields())

	ticket.CustomFieldsJSON = `{"environment":"production"}`
	assert.Equal(t, "production", ticket.CustomFields()["environment"])
}

func TestCreatorID(t *testing.T) {
	// The stored raw ID wins over whatever is in the display column.
	ticket := &Ticket{
		Requester:        "@Mallory",
		CustomFieldsJSON: `{"requester_id":"U111"}`,
	}
	assert.Equal(t, "U111", ticket.CreatorID())

	// Without a stored ID, a display value only counts when it is a raw
	// user ID itself.
	ticket = &Ticket{Requester: "U222"}
	assert.Equal(t, "U222", ticket.CreatorID())

	ticket = &Ticket{Requester: "@alice"}
	assert.Equal(t, "", ticket.CreatorID())
}

func TestInternalRefRoundTrip(t *testing.T) {
	ref := EncodeInternalRef("C0INT", "1712345678.000200")
	channelID, messageTS, err := DecodeInternalRef(ref)
	assert.NoError(t, err)
	assert.Equal(t, "C0INT", channelID)
	assert.Equal(t, "1712345678.000200", messageTS)

	_, _, err = DecodeInternalRef("garbage")
	assert.Error(t, err)
}

func TestSortFieldsIsStable(t *testing.T) {
	fields := []FieldDescriptor{
		{FieldID: "b", Order: 2},
		{FieldID: "a", Order: 1},
		{FieldID: "c", Order: 2},
	}
	sorted := SortFields(fields)
	assert.Equal(t, "a", sorted[0].FieldID)
	assert.Equal(t, "b", sorted[1].FieldID)
	assert.Equal(t, "c", sorted[2].FieldID)

	// The input slice is left alone.
	assert.Equal(t, "b", fields[0].FieldID)
}

func TestParseCSV(t *testing.T) {
	assert.Equal(t, []string{"U1", "U2"}, ParseCSV(" U1, U2 ,"))
	assert.Empty(t, ParseCSV(""))
}
