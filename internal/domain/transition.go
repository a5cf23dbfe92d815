package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransitionHistoryEntry records one status change. Entries are append-only;
// the first entry of a matter has no FromStatusID.
type TransitionHistoryEntry struct {
	ID             uuid.UUID  `json:"id"`
	MatterID       uuid.UUID  `json:"matterId"`
	StatusFieldID  uuid.UUID  `json:"statusFieldId"`
	FromStatusID   *uuid.UUID `json:"fromStatusId"`
	ToStatusID     uuid.UUID  `json:"toStatusId"`
	TransitionedAt time.Time  `json:"transitionedAt"`
}
