package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/query"
)

// FieldRepository defines the interface for field schema reads
type FieldRepository interface {
	Catalog(ctx context.Context, accountID int64) (domain.FieldCatalog, error)
}

// MatterRepository defines the interface for matter reads and field writes
type MatterRepository interface {
	// List runs a paged plan and its count query.
	List(ctx context.Context, plan query.Plan) ([]MatterRow, int, error)
	// ListCandidates runs a materialized plan and returns every match.
	ListCandidates(ctx context.Context, plan query.Plan) ([]CandidateRow, error)
	GetByID(ctx context.Context, id uuid.UUID) (MatterRow, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]MatterRow, error)
	FieldValues(ctx context.Context, matterIDs []uuid.UUID) (map[uuid.UUID][]FieldValueRow, error)
	PhaseBoundaries(ctx context.Context, matterID uuid.UUID) (domain.PhaseBoundaries, error)
	ListHistory(ctx context.Context, matterID uuid.UUID) ([]domain.TransitionHistoryEntry, error)

	// UpdateField upserts one typed value, appending a transition for status
	// fields, and returns the boundaries read inside the same transaction.
	UpdateField(ctx context.Context, update domain.MatterUpdate) (domain.PhaseBoundaries, error)
}

// MatterRow is a matter's own columns. The transition bounds are only set
// by queries that join the history.
type MatterRow struct {
	ID                uuid.UUID
	BoardID           uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	TransitionedFirst *time.Time
	TransitionedLast  *time.Time
}

// CandidateRow is the slice of a matter needed to evaluate its SLA.
type CandidateRow struct {
	ID                uuid.UUID
	CreatedAt         time.Time
	TransitionedFirst *time.Time
	TransitionedLast  *time.Time
	CurrentPhase      string
}

// FieldValueRow is one EAV row joined with its field definition and the
// labels its references resolve to. Only the column matching FieldType is
// expected to be set.
type FieldValueRow struct {
	MatterID  uuid.UUID
	FieldID   uuid.UUID
	FieldName string
	FieldType domain.FieldType

	TextValue     *string
	StringValue   *string
	NumberValue   *float64
	DateValue     *time.Time
	BooleanValue  *bool
	CurrencyValue []byte

	UserID        *int64
	UserEmail     *string
	UserFirstName *string
	UserLastName  *string

	SelectOptionID *uuid.UUID
	SelectLabel    *string

	StatusOptionID  *uuid.UUID
	StatusLabel     *string
	StatusGroupName *string
}
