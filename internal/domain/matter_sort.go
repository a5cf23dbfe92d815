package domain

import "strings"

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// ParseSortDirection normalises a direction, defaulting to desc.
func ParseSortDirection(value string) SortDirection {
	if strings.EqualFold(strings.TrimSpace(value), string(SortDirectionAsc)) {
		return SortDirectionAsc
	}
	return SortDirectionDesc
}

// SQL returns the ORDER BY keyword for the direction.
func (d SortDirection) SQL() string {
	if d == SortDirectionAsc {
		return "ASC"
	}
	return "DESC"
}

// Pseudo-columns that can be sorted on without naming a field.
const (
	SortKeyCreatedAt      = "created_at"
	SortKeyResolutionTime = "resolution_time"
	SortKeySLA            = "sla"
)

// SortType selects the sort expression: one per logical field type plus
// the three pseudo-columns.
type SortType string

const (
	SortTypeCreatedAt      SortType = "created_at"
	SortTypeResolutionTime SortType = "resolution_time"
	SortTypeSLA            SortType = "sla"
	SortTypeText           SortType = SortType(FieldTypeText)
	SortTypeNumber         SortType = SortType(FieldTypeNumber)
	SortTypeDate           SortType = SortType(FieldTypeDate)
	SortTypeBoolean        SortType = SortType(FieldTypeBoolean)
	SortTypeCurrency       SortType = SortType(FieldTypeCurrency)
	SortTypeStatus         SortType = SortType(FieldTypeStatus)
	SortTypeSelect         SortType = SortType(FieldTypeSelect)
	SortTypeUser           SortType = SortType(FieldTypeUser)
)

// AllSortTypes lists every sort type the query compiler must handle.
func AllSortTypes() []SortType {
	types := []SortType{SortTypeCreatedAt, SortTypeResolutionTime, SortTypeSLA}
	for _, ft := range AllFieldTypes() {
		types = append(types, SortType(ft))
	}
	return types
}

// IsFieldSort reports whether the sort type reads a field value.
func (t SortType) IsFieldSort() bool {
	return FieldType(t).IsValid()
}
