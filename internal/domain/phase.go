package domain

import "strings"

// Phase is the workflow group a status option belongs to.
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseToDo       Phase = "To Do"
	PhaseInProgress Phase = "In Progress"
	PhaseDone       Phase = "Done"
)

var phaseAliases = map[Phase][]string{
	PhaseToDo:       {"to do", "todo", "to-do"},
	PhaseInProgress: {"in progress", "inprogress", "in-progress"},
	PhaseDone:       {"done"},
}

// Aliases lists the lower-case status group names that map onto p.
func (p Phase) Aliases() []string {
	return phaseAliases[p]
}

// PhaseFromGroupName maps a status group name onto a known phase. Unknown
// names map to PhaseNone.
func PhaseFromGroupName(name string) Phase {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for phase, aliases := range phaseAliases {
		for _, alias := range aliases {
			if alias == normalized {
				return phase
			}
		}
	}
	return PhaseNone
}

// SLAStatus is the verdict of a matter's cycle time against the threshold.
type SLAStatus string

const (
	SLAInProgress SLAStatus = "In Progress"
	SLAMet        SLAStatus = "Met"
	SLABreached   SLAStatus = "Breached"
)

// Ordinal gives the sort position used when listing by SLA:
// In Progress < Met < Breached.
func (s SLAStatus) Ordinal() int {
	switch s {
	case SLAMet:
		return 1
	case SLABreached:
		return 2
	default:
		return 0
	}
}
