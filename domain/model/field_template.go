package model

import (
	"sort"
	"strings"
)

// Field types a template may declare.
const (
	FieldTypeText       = "text"
	FieldTypeTextarea   = "textarea"
	FieldTypeSelect     = "select"
	FieldTypeUserSelect = "user_select"
	FieldTypeDate       = "date"
)

// The five core field IDs with built-in semantics. Everything else is
// an opaque custom field stored in the custom-fields JSON.
const (
	FieldRequester   = "requester"
	FieldStatus      = "status"
	FieldAssignee    = "assignee"
	FieldPriority    = "priority"
	FieldDescription = "description"
)

func IsCoreField(fieldID string) bool {
	switch fieldID {
	case FieldRequester, FieldStatus, FieldAssignee, FieldPriority, FieldDescription:
		return true
	}
	return false
}

const DefaultTemplateKey = "default"

// FieldDescriptor is one entry of a per-channel field template.
type FieldDescriptor struct {
	TemplateKey string `gorm:"primary_key;type:varchar(50)"`
	FieldID     string `gorm:"primary_key;type:varchar(50)"`
	Label       string `gorm:"type:varchar(100)"`
	Type        string `gorm:"type:varchar(20)"`
	Required    bool
	Options     string `gorm:"type:text"` // CSV for select fields
	Order       int    `gorm:"column:field_order"`
}

func (f *FieldDescriptor) OptionList() []string {
	var opts []string
	for _, o := range strings.Split(f.Options, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	return opts
}

// SortFields returns the fields in template order. The input slice is
// not modified.
func SortFields(fields []FieldDescriptor) []FieldDescriptor {
	sorted := make([]FieldDescriptor, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// DefaultTemplate is the built-in edit form used when a channel has no
// template configured.
func DefaultTemplate() []FieldDescriptor {
	return []FieldDescriptor{
		{TemplateKey: DefaultTemplateKey, FieldID: FieldRequester, Label: "Requester", Type: FieldTypeUserSelect, Required: true, Order: 1},
		{TemplateKey: DefaultTemplateKey, FieldID: FieldStatus, Label: "Status", Type: FieldTypeSelect, Required: true, Options: "Open,Closed", Order: 2},
		{TemplateKey: DefaultTemplateKey, FieldID: FieldAssignee, Label: "Assignee", Type: FieldTypeUserSelect, Required: false, Order: 3},
		{TemplateKey: DefaultTemplateKey, FieldID: FieldPriority, Label: "Priority", Type: FieldTypeSelect, Required: true, Options: "CRITICAL,HIGH,MEDIUM,LOW", Order: 4},
		{TemplateKey: DefaultTemplateKey, FieldID: FieldDescription, Label: "Description", Type: FieldTypeTextarea, Required: false, Order: 5},
	}
}
