package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
)

// Value is a field value tagged by its logical type. The concrete types
// below are the only implementations; a nil Value is a stored NULL.
type Value interface {
	Type() FieldType
	isValue()
}

type TextValue string

type NumberValue float64

type BooleanValue bool

// DateValue wraps a calendar date (time component is ignored by the store).
type DateValue struct {
	Date time.Time
}

// CurrencyValue carries an exact amount and its ISO currency code.
type CurrencyValue struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// UserValue is the resolved user a user-typed field points at.
type UserValue struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"displayName"`
}

type SelectValue struct {
	OptionID uuid.UUID
}

// StatusValue carries the group name alongside the option id because the
// cycle-time engine needs the phase, not the label.
type StatusValue struct {
	StatusID  uuid.UUID `json:"statusId"`
	GroupName string    `json:"groupName"`
}

func (TextValue) Type() FieldType     { return FieldTypeText }
func (NumberValue) Type() FieldType   { return FieldTypeNumber }
func (BooleanValue) Type() FieldType  { return FieldTypeBoolean }
func (DateValue) Type() FieldType     { return FieldTypeDate }
func (CurrencyValue) Type() FieldType { return FieldTypeCurrency }
func (UserValue) Type() FieldType     { return FieldTypeUser }
func (SelectValue) Type() FieldType   { return FieldTypeSelect }
func (StatusValue) Type() FieldType   { return FieldTypeStatus }

func (TextValue) isValue()     {}
func (NumberValue) isValue()   {}
func (BooleanValue) isValue()  {}
func (DateValue) isValue()     {}
func (CurrencyValue) isValue() {}
func (UserValue) isValue()     {}
func (SelectValue) isValue()   {}
func (StatusValue) isValue()   {}

func (v DateValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Date)
}

func (v SelectValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.OptionID)
}

// MarshalJSON renders the amount as a JSON number rather than decimal's
// default quoted string.
func (v CurrencyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}{
		Amount:   json.Number(v.Amount.String()),
		Currency: v.Currency,
	})
}

// Phase returns the workflow phase of the status.
func (v StatusValue) Phase() Phase {
	return PhaseFromGroupName(v.GroupName)
}

// FieldValue is one assembled field of a matter.
type FieldValue struct {
	FieldID      uuid.UUID `json:"fieldId"`
	FieldName    string    `json:"fieldName"`
	FieldType    FieldType `json:"fieldType"`
	Value        Value     `json:"value"`
	DisplayValue *string   `json:"displayValue,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02",
}

// ParseValue decodes a JSON payload into the variant for fieldType.
// JSON null decodes to a nil Value.
func ParseValue(fieldType FieldType, raw json.RawMessage) (Value, error) {
	if !fieldType.IsValid() {
		return nil, goerr.Wrap(ErrUnsupportedFieldType, "cannot parse value", goerr.V("field_type", fieldType))
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch fieldType {
	case FieldTypeText:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, valueMismatch(fieldType, err)
		}
		return TextValue(s), nil

	case FieldTypeNumber:
		var n float64
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return nil, valueMismatch(fieldType, err)
		}
		return NumberValue(n), nil

	case FieldTypeDate:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, valueMismatch(fieldType, err)
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return DateValue{Date: t}, nil
			}
		}
		return nil, goerr.Wrap(ErrValueTypeMismatch, "unrecognised date format", goerr.V("value", s))

	case FieldTypeBoolean:
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, valueMismatch(fieldType, err)
		}
		return BooleanValue(b), nil

	case FieldTypeCurrency:
		var c CurrencyValue
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, valueMismatch(fieldType, err)
		}
		if c.Currency == "" {
			return nil, goerr.Wrap(ErrValueTypeMismatch, "currency code is required")
		}
		c.Currency = strings.ToUpper(c.Currency)
		return c, nil

	case FieldTypeUser:
		var id int64
		if err := json.Unmarshal(trimmed, &id); err != nil {
			var u UserValue
			if objErr := json.Unmarshal(trimmed, &u); objErr != nil || u.ID == 0 {
				return nil, valueMismatch(fieldType, err)
			}
			return u, nil
		}
		return UserValue{ID: id}, nil

	case FieldTypeSelect:
		id, err := parseUUIDValue(trimmed)
		if err != nil {
			return nil, valueMismatch(fieldType, err)
		}
		return SelectValue{OptionID: id}, nil

	case FieldTypeStatus:
		id, err := parseUUIDValue(trimmed)
		if err != nil {
			var s StatusValue
			if objErr := json.Unmarshal(trimmed, &s); objErr != nil || s.StatusID == uuid.Nil {
				return nil, valueMismatch(fieldType, err)
			}
			return s, nil
		}
		return StatusValue{StatusID: id}, nil
	}

	return nil, goerr.Wrap(ErrUnsupportedFieldType, "cannot parse value", goerr.V("field_type", fieldType))
}

func parseUUIDValue(raw []byte) (uuid.UUID, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(s)
}

func valueMismatch(fieldType FieldType, err error) error {
	return goerr.Wrap(ErrValueTypeMismatch, "value does not match field type",
		goerr.V("field_type", fieldType),
		goerr.V("cause", err.Error()),
	)
}
