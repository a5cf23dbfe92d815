package domain

import (
	"github.com/google/uuid"
)

// FieldType represents the logical type of a matter field
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeCurrency FieldType = "currency"
	FieldTypeStatus   FieldType = "status"
	FieldTypeSelect   FieldType = "select"
	FieldTypeUser     FieldType = "user"
)

// AllFieldTypes returns every logical field type in declaration order.
func AllFieldTypes() []FieldType {
	return []FieldType{
		FieldTypeText,
		FieldTypeNumber,
		FieldTypeDate,
		FieldTypeBoolean,
		FieldTypeCurrency,
		FieldTypeStatus,
		FieldTypeSelect,
		FieldTypeUser,
	}
}

// IsValid checks if the field type is one of the known logical types
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeText,
		FieldTypeNumber,
		FieldTypeDate,
		FieldTypeBoolean,
		FieldTypeCurrency,
		FieldTypeStatus,
		FieldTypeSelect,
		FieldTypeUser:
		return true
	default:
		return false
	}
}

func (t FieldType) String() string {
	return string(t)
}

// Field is a per-account field definition. It decides which physical
// column a FieldValue lives in.
type Field struct {
	ID            uuid.UUID      `json:"id"`
	AccountID     int64          `json:"accountId"`
	Name          string         `json:"name"`
	FieldType     FieldType      `json:"fieldType"`
	Description   string         `json:"description,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SystemField   bool           `json:"systemField"`
	Options       []FieldOption  `json:"options,omitempty"`
	StatusOptions []StatusOption `json:"statusOptions,omitempty"`
}

// FieldOption is a select option. Sequence drives ordinal sorting.
type FieldOption struct {
	ID       uuid.UUID `json:"id"`
	Label    string    `json:"label"`
	Sequence int       `json:"sequence"`
}

// StatusOption is a status option belonging to a workflow group.
type StatusOption struct {
	ID        uuid.UUID `json:"id"`
	Label     string    `json:"label"`
	GroupID   uuid.UUID `json:"groupId"`
	GroupName string    `json:"groupName"`
	Sequence  int       `json:"sequence"`
}

// Phase returns the workflow phase of the option's group.
func (o StatusOption) Phase() Phase {
	return PhaseFromGroupName(o.GroupName)
}

// StatusGroup is a workflow phase bucket (To Do, In Progress, Done).
type StatusGroup struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Sequence int       `json:"sequence"`
}

// CurrencyOption is an account-level currency choice.
type CurrencyOption struct {
	ID       uuid.UUID `json:"id"`
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	Symbol   string    `json:"symbol"`
	Sequence int       `json:"sequence"`
}

// FieldCatalog is the full schema for an account.
type FieldCatalog struct {
	Fields          []Field          `json:"fields"`
	StatusGroups    []StatusGroup    `json:"statusGroups"`
	CurrencyOptions []CurrencyOption `json:"currencyOptions"`
}

// FieldByID looks up a field definition by id.
func (c FieldCatalog) FieldByID(id uuid.UUID) (Field, bool) {
	for _, field := range c.Fields {
		if field.ID == id {
			return field, true
		}
	}
	return Field{}, false
}
