// Package cycletime derives resolution time and SLA verdicts from a
// matter's first/last transition timestamps and its current phase.
package cycletime

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/logging"
)

// DefaultThreshold is the SLA threshold used when none is configured.
const DefaultThreshold = 8 * time.Hour

const (
	notAvailable     = "N/A"
	inProgressPrefix = "In Progress: "

	day  = 24 * time.Hour
	year = 365 * day
)

// Input is everything the engine needs about one matter.
type Input struct {
	TransitionedFirst *time.Time
	TransitionedLast  *time.Time
	Phase             domain.Phase
}

// Result is the derived cycle time and verdict.
type Result struct {
	CycleTime domain.CycleTime
	SLA       domain.SLAStatus
}

// Engine evaluates cycle time and SLA. It holds no per-matter state and is
// safe for concurrent use.
type Engine struct {
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for open matters.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger used for data-integrity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine with the given SLA threshold. A non-positive
// threshold falls back to DefaultThreshold.
func NewEngine(threshold time.Duration, opts ...Option) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	e := &Engine{
		threshold: threshold,
		now:       time.Now,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured SLA threshold.
func (e *Engine) Threshold() time.Duration {
	return e.threshold
}

// Evaluate computes the cycle time and SLA verdict for one matter.
func (e *Engine) Evaluate(in Input) Result {
	if in.TransitionedFirst == nil || in.TransitionedLast == nil {
		if in.Phase != domain.PhaseNone {
			e.logger.Warn("matter has a phase but no transition history", "phase", string(in.Phase))
		}
		return unavailable()
	}

	first := *in.TransitionedFirst
	last := *in.TransitionedLast
	if first.Equal(last) || in.Phase == domain.PhaseInProgress {
		last = e.now()
	}

	resolution := last.Sub(first)
	if resolution < 0 {
		e.logger.Warn("negative resolution time",
			"first", first,
			"last", last,
			"phase", string(in.Phase),
		)
		return unavailable()
	}

	isInProgress := in.Phase == domain.PhaseInProgress
	ms := resolution.Milliseconds()
	startedAt := first

	cycle := domain.CycleTime{
		ResolutionTimeMs:        &ms,
		ResolutionTimeFormatted: FormatDuration(resolution, isInProgress),
		IsInProgress:            isInProgress,
		StartedAt:               &startedAt,
	}
	if in.Phase == domain.PhaseDone {
		completedAt := last
		cycle.CompletedAt = &completedAt
	}

	return Result{
		CycleTime: cycle,
		SLA:       e.Verdict(in.Phase, resolution),
	}
}

// Verdict classifies a resolution time for the given phase. Only Done
// matters can meet or breach the SLA.
func (e *Engine) Verdict(phase domain.Phase, resolution time.Duration) domain.SLAStatus {
	switch phase {
	case domain.PhaseDone:
		if resolution <= e.threshold {
			return domain.SLAMet
		}
		return domain.SLABreached
	case domain.PhaseToDo, domain.PhaseInProgress:
		return domain.SLAInProgress
	default:
		return domain.SLAInProgress
	}
}

// FormatDuration renders d as "1y 2d 3h 4m", skipping zero units. Anything
// under a minute is the empty string, and the in-progress prefix is only
// added to a non-empty body.
func FormatDuration(d time.Duration, isInProgress bool) string {
	if d < time.Minute {
		return ""
	}

	units := []struct {
		size   time.Duration
		suffix string
	}{
		{year, "y"},
		{day, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
	}

	parts := make([]string, 0, len(units))
	remaining := d
	for _, unit := range units {
		n := remaining / unit.size
		remaining -= n * unit.size
		if n > 0 {
			parts = append(parts, strconv.FormatInt(int64(n), 10)+unit.suffix)
		}
	}

	body := strings.Join(parts, " ")
	if isInProgress && body != "" {
		return inProgressPrefix + body
	}
	return body
}

func unavailable() Result {
	return Result{
		CycleTime: domain.CycleTime{
			ResolutionTimeFormatted: notAvailable,
			IsInProgress:            true,
		},
		SLA: domain.SLAInProgress,
	}
}
