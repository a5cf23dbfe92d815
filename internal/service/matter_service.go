// Package service wires the compiler, store, assembler and cycle-time engine
// into the matter operations exposed over HTTP.
package service

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rpattn/matters/internal/assembler"
	"github.com/rpattn/matters/internal/boundarycache"
	"github.com/rpattn/matters/internal/cycletime"
	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/logging"
	"github.com/rpattn/matters/internal/query"
	"github.com/rpattn/matters/internal/repository"
)

// MatterService implements the matter list, detail and update operations.
type MatterService struct {
	matters   repository.MatterRepository
	fields    repository.FieldRepository
	compiler  *query.Compiler
	engine    *cycletime.Engine
	assembler *assembler.Assembler
	cache     boundarycache.Cache
}

// Option configures a MatterService.
type Option func(*MatterService)

func WithCompiler(c *query.Compiler) Option {
	return func(s *MatterService) {
		if c != nil {
			s.compiler = c
		}
	}
}

func WithEngine(e *cycletime.Engine) Option {
	return func(s *MatterService) {
		if e != nil {
			s.engine = e
		}
	}
}

func WithAssembler(a *assembler.Assembler) Option {
	return func(s *MatterService) {
		if a != nil {
			s.assembler = a
		}
	}
}

// WithBoundaryCache enables the phase-boundary cache for detail reads.
func WithBoundaryCache(c boundarycache.Cache) Option {
	return func(s *MatterService) {
		if c != nil {
			s.cache = c
		}
	}
}

// NewMatterService creates a service with default collaborators unless
// overridden by opts.
func NewMatterService(matters repository.MatterRepository, fields repository.FieldRepository, opts ...Option) *MatterService {
	s := &MatterService{
		matters:   matters,
		fields:    fields,
		compiler:  query.NewCompiler(),
		engine:    cycletime.NewEngine(cycletime.DefaultThreshold),
		assembler: assembler.Default(),
		cache:     boundarycache.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the account's field schema.
func (s *MatterService) Catalog(ctx context.Context, accountID int64) (domain.FieldCatalog, error) {
	return s.fields.Catalog(ctx, accountID)
}

// ListMatters returns one page of matters sorted as requested.
func (s *MatterService) ListMatters(ctx context.Context, params domain.MatterListParams) (domain.MatterList, error) {
	plan := s.compiler.Compile(query.Request{
		SortKey:   params.SortKey,
		SortType:  params.SortType,
		SortOrder: params.SortOrder,
		Page:      params.Page,
		PageSize:  params.Limit,
		Search:    params.Search,
	})

	var (
		matters []domain.Matter
		total   int
		err     error
	)
	if plan.Mode == query.ModeMaterialized {
		matters, total, err = s.listMaterialized(ctx, plan)
	} else {
		matters, total, err = s.listPaged(ctx, plan)
	}
	if err != nil {
		return domain.MatterList{}, err
	}

	return domain.MatterList{
		Data:       matters,
		Total:      total,
		Page:       plan.Page,
		Limit:      plan.Limit,
		TotalPages: totalPages(total, plan.Limit),
	}, nil
}

func (s *MatterService) listPaged(ctx context.Context, plan query.Plan) ([]domain.Matter, int, error) {
	rows, total, err := s.matters.List(ctx, plan)
	if err != nil {
		return nil, 0, err
	}
	matters, err := s.assemble(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return matters, total, nil
}

type rankedCandidate struct {
	id      uuid.UUID
	ordinal int
	ms      *int64
}

// listMaterialized evaluates every candidate's SLA, orders them in memory and
// loads only the requested page.
func (s *MatterService) listMaterialized(ctx context.Context, plan query.Plan) ([]domain.Matter, int, error) {
	ranked, err := s.rankCandidates(ctx, plan)
	if err != nil {
		return nil, 0, err
	}

	total := len(ranked)
	if plan.Offset >= total {
		return []domain.Matter{}, total, nil
	}
	end := min(plan.Offset+plan.Limit, total)

	matters, err := s.loadRanked(ctx, ranked[plan.Offset:end])
	if err != nil {
		return nil, 0, err
	}
	return matters, total, nil
}

func (s *MatterService) rankCandidates(ctx context.Context, plan query.Plan) ([]rankedCandidate, error) {
	candidates, err := s.matters.ListCandidates(ctx, plan)
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		res := s.engine.Evaluate(cycletime.Input{
			TransitionedFirst: c.TransitionedFirst,
			TransitionedLast:  c.TransitionedLast,
			Phase:             domain.PhaseFromGroupName(c.CurrentPhase),
		})
		ranked = append(ranked, rankedCandidate{
			id:      c.ID,
			ordinal: res.SLA.Ordinal(),
			ms:      res.CycleTime.ResolutionTimeMs,
		})
	}
	sortCandidates(ranked, plan.Direction)
	return ranked, nil
}

func (s *MatterService) loadRanked(ctx context.Context, page []rankedCandidate) ([]domain.Matter, error) {
	ids := make([]uuid.UUID, len(page))
	for i, c := range page {
		ids[i] = c.id
	}

	rows, err := s.matters.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, orderRows(rows, ids))
}

// sortCandidates orders by SLA ordinal, then resolution time, then id.
// Unknown resolution times go last in either direction and id is always
// ascending.
func sortCandidates(ranked []rankedCandidate, dir domain.SortDirection) {
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.ordinal != b.ordinal {
			if dir == domain.SortDirectionAsc {
				return a.ordinal < b.ordinal
			}
			return a.ordinal > b.ordinal
		}
		switch {
		case a.ms == nil && b.ms != nil:
			return false
		case a.ms != nil && b.ms == nil:
			return true
		case a.ms != nil && b.ms != nil && *a.ms != *b.ms:
			if dir == domain.SortDirectionAsc {
				return *a.ms < *b.ms
			}
			return *a.ms > *b.ms
		}
		return a.id.String() < b.id.String()
	})
}

func orderRows(rows []repository.MatterRow, ids []uuid.UUID) []repository.MatterRow {
	byID := make(map[uuid.UUID]repository.MatterRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ordered := make([]repository.MatterRow, 0, len(ids))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered
}

// CollectMatters returns every matter of a list request in order. Used by
// the export. A materialized sort is ranked once and loaded in chunks.
func (s *MatterService) CollectMatters(ctx context.Context, params domain.MatterListParams) ([]domain.Matter, error) {
	params.Page = 1
	params.Limit = query.MaxPageSize

	plan := s.compiler.Compile(query.Request{
		SortKey:   params.SortKey,
		SortType:  params.SortType,
		SortOrder: params.SortOrder,
		Page:      params.Page,
		PageSize:  params.Limit,
		Search:    params.Search,
	})
	if plan.Mode == query.ModeMaterialized {
		ranked, err := s.rankCandidates(ctx, plan)
		if err != nil {
			return nil, err
		}
		all := make([]domain.Matter, 0, len(ranked))
		for start := 0; start < len(ranked); start += plan.Limit {
			end := min(start+plan.Limit, len(ranked))
			matters, err := s.loadRanked(ctx, ranked[start:end])
			if err != nil {
				return nil, err
			}
			all = append(all, matters...)
		}
		return all, nil
	}

	all := make([]domain.Matter, 0)
	for {
		list, err := s.ListMatters(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, list.Data...)
		if len(list.Data) == 0 || params.Page >= list.TotalPages {
			return all, nil
		}
		params.Page++
	}
}

// GetMatterByID returns the matter or nil when it does not exist.
func (s *MatterService) GetMatterByID(ctx context.Context, id uuid.UUID) (*domain.Matter, error) {
	row, err := s.matters.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrMatterNotFound) {
			return nil, nil
		}
		return nil, err
	}

	boundaries, err := s.boundaries(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.matterWithBoundaries(ctx, row, boundaries)
}

func (s *MatterService) matterWithBoundaries(ctx context.Context, row repository.MatterRow, boundaries domain.PhaseBoundaries) (*domain.Matter, error) {
	row.TransitionedFirst = boundaries.First
	row.TransitionedLast = boundaries.Last

	matters, err := s.assemble(ctx, []repository.MatterRow{row})
	if err != nil {
		return nil, err
	}
	return &matters[0], nil
}

// GetMattersByIDs loads several matters in the order of ids. Missing ids are
// skipped.
func (s *MatterService) GetMattersByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Matter, error) {
	rows, err := s.matters.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, orderRows(rows, ids))
}

// ListTransitions returns a matter's status history oldest first.
func (s *MatterService) ListTransitions(ctx context.Context, matterID uuid.UUID) ([]domain.TransitionHistoryEntry, error) {
	return s.matters.ListHistory(ctx, matterID)
}

// UpdateMatterField validates update against the account's catalog, writes
// it and returns the refreshed matter.
func (s *MatterService) UpdateMatterField(ctx context.Context, accountID int64, update domain.MatterUpdate) (*domain.Matter, error) {
	if !update.FieldType.IsValid() {
		return nil, goerr.Wrap(domain.ErrUnsupportedFieldType, "cannot update field", goerr.V("field_type", update.FieldType))
	}

	catalog, err := s.fields.Catalog(ctx, accountID)
	if err != nil {
		return nil, err
	}
	field, ok := catalog.FieldByID(update.FieldID)
	if !ok {
		return nil, goerr.Wrap(domain.ErrFieldNotFound, "cannot update field",
			goerr.V("field_id", update.FieldID),
			goerr.V("account_id", accountID),
		)
	}
	if field.FieldType != update.FieldType {
		return nil, goerr.Wrap(domain.ErrValueTypeMismatch, "field type differs from catalog",
			goerr.V("field_id", update.FieldID),
			goerr.V("requested", update.FieldType),
			goerr.V("catalog", field.FieldType),
		)
	}
	if err := checkOption(field, update.Value); err != nil {
		return nil, err
	}

	boundaries, err := s.matters.UpdateField(ctx, update)
	if err != nil {
		return nil, err
	}

	s.storeBoundaries(ctx, update.MatterID, boundaries)

	logging.From(ctx).Info("matter field updated",
		"matter_id", update.MatterID.String(),
		"field_id", update.FieldID.String(),
		"field_type", string(update.FieldType),
		"actor_id", update.ActorID,
	)

	// The boundaries read inside the transaction are authoritative; the
	// cache is not consulted for the response.
	row, err := s.matters.GetByID(ctx, update.MatterID)
	if err != nil {
		return nil, err
	}
	return s.matterWithBoundaries(ctx, row, boundaries)
}

// storeBoundaries writes committed boundaries to the cache. When the write
// fails the entry is evicted so later reads go back to the store.
func (s *MatterService) storeBoundaries(ctx context.Context, matterID uuid.UUID, boundaries domain.PhaseBoundaries) {
	err := s.cache.Set(ctx, matterID, boundaries)
	if err == nil {
		return
	}
	logging.From(ctx).Warn("failed to cache phase boundaries, evicting",
		"matter_id", matterID.String(),
		logging.ErrAttr(err),
	)
	if err := s.cache.Delete(ctx, matterID); err != nil {
		logging.From(ctx).Error("failed to evict phase boundaries",
			"matter_id", matterID.String(),
			logging.ErrAttr(err),
		)
	}
}

func checkOption(field domain.Field, value domain.Value) error {
	switch v := value.(type) {
	case domain.SelectValue:
		for _, option := range field.Options {
			if option.ID == v.OptionID {
				return nil
			}
		}
		return goerr.Wrap(domain.ErrUnknownOption, "unknown select option",
			goerr.V("field_id", field.ID),
			goerr.V("option_id", v.OptionID),
		)
	case domain.StatusValue:
		for _, option := range field.StatusOptions {
			if option.ID == v.StatusID {
				return nil
			}
		}
		return goerr.Wrap(domain.ErrUnknownOption, "unknown status option",
			goerr.V("field_id", field.ID),
			goerr.V("status_id", v.StatusID),
		)
	}
	return nil
}

// boundaries reads through the cache. Cache failures fall back to the store.
func (s *MatterService) boundaries(ctx context.Context, matterID uuid.UUID) (domain.PhaseBoundaries, error) {
	cached, ok, err := s.cache.Get(ctx, matterID)
	if err != nil {
		logging.From(ctx).Warn("phase boundary cache read failed",
			"matter_id", matterID.String(),
			logging.ErrAttr(err),
		)
	} else if ok {
		return cached, nil
	}

	boundaries, err := s.matters.PhaseBoundaries(ctx, matterID)
	if err != nil {
		return domain.PhaseBoundaries{}, err
	}
	if err := s.cache.Set(ctx, matterID, boundaries); err != nil {
		logging.From(ctx).Warn("failed to cache phase boundaries",
			"matter_id", matterID.String(),
			logging.ErrAttr(err),
		)
	}
	return boundaries, nil
}

// assemble loads field rows for rows and derives cycle time and SLA.
func (s *MatterService) assemble(ctx context.Context, rows []repository.MatterRow) ([]domain.Matter, error) {
	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	fieldRows, err := s.matters.FieldValues(ctx, ids)
	if err != nil {
		return nil, err
	}

	matters := s.assembler.Matters(rows, fieldRows)
	for i := range matters {
		s.derive(&matters[i])
	}
	return matters, nil
}

func (s *MatterService) derive(m *domain.Matter) {
	res := s.engine.Evaluate(cycletime.Input{
		TransitionedFirst: m.TransitionedFirst,
		TransitionedLast:  m.TransitionedLast,
		Phase:             m.CurrentPhase(),
	})
	cycle := res.CycleTime
	m.CycleTime = &cycle
	m.SLA = res.SLA
}

func totalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
