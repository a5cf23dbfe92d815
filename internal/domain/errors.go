package domain

import "errors"

var (
	// ErrMatterNotFound is returned by the store when a matter id is absent.
	ErrMatterNotFound = errors.New("matter not found")

	// ErrUnsupportedFieldType is returned when a logical type has no column mapping.
	ErrUnsupportedFieldType = errors.New("unsupported field type")

	// ErrValueTypeMismatch is returned when a value does not fit its field's logical type.
	ErrValueTypeMismatch = errors.New("value does not match field type")
)

var (
	// ErrFieldNotFound is returned when a field id is not in the account's catalog.
	ErrFieldNotFound = errors.New("field not found")

	// ErrUnknownOption is returned when a select or status value names an option the field does not have.
	ErrUnknownOption = errors.New("option does not belong to field")
)
