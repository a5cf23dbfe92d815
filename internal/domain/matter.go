package domain

import (
	"time"

	"github.com/google/uuid"
)

// Matter is an assembled ticket: its EAV rows keyed by field name plus the
// derived cycle time and SLA verdict.
type Matter struct {
	ID                uuid.UUID             `json:"id"`
	BoardID           uuid.UUID             `json:"boardId"`
	Fields            map[string]FieldValue `json:"fields"`
	CycleTime         *CycleTime            `json:"cycleTime,omitempty"`
	SLA               SLAStatus             `json:"sla,omitempty"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
	TransitionedFirst *time.Time            `json:"transitionedFirst"`
	TransitionedLast  *time.Time            `json:"transitionedLast"`
}

// CurrentPhase returns the phase of the matter's first status field
// (by field name), or PhaseNone when it has none.
func (m Matter) CurrentPhase() Phase {
	var (
		name  string
		phase = PhaseNone
		found bool
	)
	for fieldName, fv := range m.Fields {
		status, ok := fv.Value.(StatusValue)
		if !ok {
			continue
		}
		if !found || fieldName < name {
			name = fieldName
			phase = status.Phase()
			found = true
		}
	}
	return phase
}

// CycleTime is the resolution duration derived from transition history.
type CycleTime struct {
	ResolutionTimeMs        *int64     `json:"resolutionTimeMs"`
	ResolutionTimeFormatted string     `json:"resolutionTimeFormatted"`
	IsInProgress            bool       `json:"isInProgress"`
	StartedAt               *time.Time `json:"startedAt"`
	CompletedAt             *time.Time `json:"completedAt"`
}

// MatterListParams describes a list request after request validation.
type MatterListParams struct {
	AccountID int64
	Page      int
	Limit     int
	SortKey   string
	SortType  SortType
	SortOrder SortDirection
	Search    string
}

// MatterList is the paged list envelope.
type MatterList struct {
	Data       []Matter `json:"data"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"totalPages"`
}

// MatterUpdate is a single typed field write.
type MatterUpdate struct {
	MatterID  uuid.UUID
	FieldID   uuid.UUID
	FieldType FieldType
	Value     Value
	ActorID   int64
}

// PhaseBoundaries are the first and last transition timestamps of a matter.
type PhaseBoundaries struct {
	First *time.Time `json:"first"`
	Last  *time.Time `json:"last"`
}
