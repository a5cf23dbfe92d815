// Package assembler turns EAV rows into typed, display-ready matter fields.
package assembler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/logging"
	"github.com/rpattn/matters/internal/repository"
)

const (
	dateDisplayLayout = "1/2/2006"
	checkMark         = "✓"
	crossMark         = "✗"
)

// Assembler builds domain matters. It is stateless apart from its printer.
type Assembler struct {
	printer *message.Printer
}

// New returns an assembler formatting numbers for tag.
func New(tag language.Tag) *Assembler {
	return &Assembler{printer: message.NewPrinter(tag)}
}

// Default formats numbers for US English.
func Default() *Assembler {
	return New(language.AmericanEnglish)
}

// Fields converts one matter's rows into its field map keyed by field name.
// Rows of unknown logical type are skipped.
func (a *Assembler) Fields(rows []repository.FieldValueRow) map[string]domain.FieldValue {
	fields := make(map[string]domain.FieldValue, len(rows))
	for _, row := range rows {
		fv, ok := a.fieldValue(row)
		if !ok {
			continue
		}
		fields[row.FieldName] = fv
	}
	return fields
}

// Matter assembles a single matter from its row and field rows.
func (a *Assembler) Matter(row repository.MatterRow, fieldRows []repository.FieldValueRow) domain.Matter {
	return domain.Matter{
		ID:                row.ID,
		BoardID:           row.BoardID,
		Fields:            a.Fields(fieldRows),
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		TransitionedFirst: row.TransitionedFirst,
		TransitionedLast:  row.TransitionedLast,
	}
}

// Matters assembles a batch, preserving the order of rows.
func (a *Assembler) Matters(rows []repository.MatterRow, fieldRows map[uuid.UUID][]repository.FieldValueRow) []domain.Matter {
	matters := make([]domain.Matter, 0, len(rows))
	for _, row := range rows {
		matters = append(matters, a.Matter(row, fieldRows[row.ID]))
	}
	return matters
}

func (a *Assembler) fieldValue(row repository.FieldValueRow) (domain.FieldValue, bool) {
	fv := domain.FieldValue{
		FieldID:   row.FieldID,
		FieldName: row.FieldName,
		FieldType: row.FieldType,
	}

	switch row.FieldType {
	case domain.FieldTypeText:
		text := row.TextValue
		if text == nil || *text == "" {
			text = row.StringValue
		}
		if text != nil {
			fv.Value = domain.TextValue(*text)
			fv.DisplayValue = stringPtr(*text)
		}

	case domain.FieldTypeNumber:
		if row.NumberValue != nil {
			fv.Value = domain.NumberValue(*row.NumberValue)
			fv.DisplayValue = stringPtr(a.FormatNumber(*row.NumberValue))
		}

	case domain.FieldTypeDate:
		if row.DateValue != nil {
			fv.Value = domain.DateValue{Date: *row.DateValue}
			fv.DisplayValue = stringPtr(FormatDate(*row.DateValue))
		}

	case domain.FieldTypeBoolean:
		if row.BooleanValue != nil {
			fv.Value = domain.BooleanValue(*row.BooleanValue)
		}
		fv.DisplayValue = stringPtr(FormatBoolean(row.BooleanValue != nil && *row.BooleanValue))

	case domain.FieldTypeCurrency:
		if currency, ok := a.currency(row); ok {
			fv.Value = currency
			fv.DisplayValue = stringPtr(a.FormatCurrency(currency))
		}

	case domain.FieldTypeUser:
		if row.UserID != nil {
			user := domain.UserValue{
				ID:        *row.UserID,
				Email:     deref(row.UserEmail),
				FirstName: deref(row.UserFirstName),
				LastName:  deref(row.UserLastName),
			}
			user.DisplayName = strings.TrimSpace(user.FirstName + " " + user.LastName)
			fv.Value = user
			fv.DisplayValue = stringPtr(user.DisplayName)
		}

	case domain.FieldTypeSelect:
		if row.SelectOptionID != nil {
			fv.Value = domain.SelectValue{OptionID: *row.SelectOptionID}
			fv.DisplayValue = row.SelectLabel
		}

	case domain.FieldTypeStatus:
		if row.StatusOptionID != nil {
			fv.Value = domain.StatusValue{StatusID: *row.StatusOptionID, GroupName: deref(row.StatusGroupName)}
			fv.DisplayValue = row.StatusLabel
		}

	default:
		logging.Default().Warn("skipping field with unknown type",
			"field_id", row.FieldID.String(),
			"field_type", string(row.FieldType),
		)
		return domain.FieldValue{}, false
	}

	return fv, true
}

func (a *Assembler) currency(row repository.FieldValueRow) (domain.CurrencyValue, bool) {
	if len(row.CurrencyValue) == 0 {
		return domain.CurrencyValue{}, false
	}
	var payload struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}
	if err := json.Unmarshal(row.CurrencyValue, &payload); err != nil {
		logging.Default().Warn("invalid currency value", "field_id", row.FieldID.String(), logging.ErrAttr(err))
		return domain.CurrencyValue{}, false
	}
	amount, err := decimal.NewFromString(payload.Amount.String())
	if err != nil {
		logging.Default().Warn("invalid currency amount", "field_id", row.FieldID.String(), logging.ErrAttr(err))
		return domain.CurrencyValue{}, false
	}
	return domain.CurrencyValue{Amount: amount, Currency: payload.Currency}, true
}

// FormatNumber renders v with grouping separators and at most three
// fraction digits.
func (a *Assembler) FormatNumber(v float64) string {
	return a.printer.Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
}

// FormatCurrency renders "<amount> <code>".
func (a *Assembler) FormatCurrency(v domain.CurrencyValue) string {
	amount := a.FormatNumber(v.Amount.InexactFloat64())
	if v.Currency == "" {
		return amount
	}
	return amount + " " + v.Currency
}

// FormatDate renders a calendar date as M/D/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(dateDisplayLayout)
}

func FormatBoolean(v bool) string {
	if v {
		return checkMark
	}
	return crossMark
}

func stringPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
