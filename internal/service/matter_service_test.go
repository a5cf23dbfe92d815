package service

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/rpattn/matters/internal/cycletime"
	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/query"
	"github.com/rpattn/matters/internal/repository"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubMatterRepo struct {
	rows        []repository.MatterRow
	fieldRows   map[uuid.UUID][]repository.FieldValueRow
	candidates  []repository.CandidateRow
	boundaries  map[uuid.UUID]domain.PhaseBoundaries
	history     map[uuid.UUID][]domain.TransitionHistoryEntry
	updates     []domain.MatterUpdate
	boundsCalls int
	rankCalls   int
}

func newStubMatterRepo() *stubMatterRepo {
	return &stubMatterRepo{
		fieldRows:  map[uuid.UUID][]repository.FieldValueRow{},
		boundaries: map[uuid.UUID]domain.PhaseBoundaries{},
		history:    map[uuid.UUID][]domain.TransitionHistoryEntry{},
	}
}

func (r *stubMatterRepo) List(_ context.Context, plan query.Plan) ([]repository.MatterRow, int, error) {
	sorted := append([]repository.MatterRow(nil), r.rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if plan.Direction == domain.SortDirectionAsc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if plan.Offset >= len(sorted) {
		return []repository.MatterRow{}, len(sorted), nil
	}
	end := min(plan.Offset+plan.Limit, len(sorted))
	return sorted[plan.Offset:end], len(sorted), nil
}

func (r *stubMatterRepo) ListCandidates(context.Context, query.Plan) ([]repository.CandidateRow, error) {
	r.rankCalls++
	return r.candidates, nil
}

func (r *stubMatterRepo) GetByID(_ context.Context, id uuid.UUID) (repository.MatterRow, error) {
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return repository.MatterRow{}, goerr.Wrap(domain.ErrMatterNotFound, "failed to get matter")
}

func (r *stubMatterRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]repository.MatterRow, error) {
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := make([]repository.MatterRow, 0, len(ids))
	for _, row := range r.rows {
		if want[row.ID] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *stubMatterRepo) FieldValues(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]repository.FieldValueRow, error) {
	out := map[uuid.UUID][]repository.FieldValueRow{}
	for _, id := range ids {
		out[id] = r.fieldRows[id]
	}
	return out, nil
}

func (r *stubMatterRepo) PhaseBoundaries(_ context.Context, id uuid.UUID) (domain.PhaseBoundaries, error) {
	r.boundsCalls++
	return r.boundaries[id], nil
}

func (r *stubMatterRepo) ListHistory(_ context.Context, id uuid.UUID) ([]domain.TransitionHistoryEntry, error) {
	return r.history[id], nil
}

func (r *stubMatterRepo) UpdateField(_ context.Context, update domain.MatterUpdate) (domain.PhaseBoundaries, error) {
	if _, err := r.GetByID(context.Background(), update.MatterID); err != nil {
		return domain.PhaseBoundaries{}, err
	}
	r.updates = append(r.updates, update)

	if status, ok := update.Value.(domain.StatusValue); ok {
		prior := r.history[update.MatterID]
		entry := domain.TransitionHistoryEntry{
			ID:             uuid.New(),
			MatterID:       update.MatterID,
			StatusFieldID:  update.FieldID,
			ToStatusID:     status.StatusID,
			TransitionedAt: testNow,
		}
		if len(prior) > 0 {
			from := prior[len(prior)-1].ToStatusID
			entry.FromStatusID = &from
		}
		r.history[update.MatterID] = append(prior, entry)

		first := r.history[update.MatterID][0].TransitionedAt
		last := entry.TransitionedAt
		r.boundaries[update.MatterID] = domain.PhaseBoundaries{First: &first, Last: &last}
	}
	return r.boundaries[update.MatterID], nil
}

type stubFieldRepo struct {
	catalog domain.FieldCatalog
}

func (r *stubFieldRepo) Catalog(context.Context, int64) (domain.FieldCatalog, error) {
	return r.catalog, nil
}

type memoryCache struct {
	entries    map[uuid.UUID]domain.PhaseBoundaries
	failGet    bool
	failSet    bool
	failDelete bool
	sets       int
	deletes    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[uuid.UUID]domain.PhaseBoundaries{}}
}

func (c *memoryCache) Get(_ context.Context, id uuid.UUID) (domain.PhaseBoundaries, bool, error) {
	if c.failGet {
		return domain.PhaseBoundaries{}, false, errors.New("connection refused")
	}
	b, ok := c.entries[id]
	return b, ok, nil
}

func (c *memoryCache) Set(_ context.Context, id uuid.UUID, b domain.PhaseBoundaries) error {
	c.sets++
	if c.failSet {
		return errors.New("write timeout")
	}
	if cur, ok := c.entries[id]; ok && cur.Last != nil && (b.Last == nil || cur.Last.After(*b.Last)) {
		return nil
	}
	c.entries[id] = b
	return nil
}

func (c *memoryCache) Delete(_ context.Context, id uuid.UUID) error {
	c.deletes++
	if c.failDelete {
		return errors.New("connection reset")
	}
	delete(c.entries, id)
	return nil
}

func (c *memoryCache) Close() error { return nil }

func testEngine() *cycletime.Engine {
	return cycletime.NewEngine(8*time.Hour, cycletime.WithClock(func() time.Time { return testNow }))
}

func ptr(t time.Time) *time.Time { return &t }

func str(s string) *string { return &s }

func TestListMattersPaginationSumsToTotal(t *testing.T) {
	repo := newStubMatterRepo()
	for i := 0; i < 7; i++ {
		repo.rows = append(repo.rows, repository.MatterRow{
			ID:        uuid.New(),
			CreatedAt: testNow.Add(-time.Duration(i) * time.Hour),
		})
	}
	svc := NewMatterService(repo, &stubFieldRepo{}, WithEngine(testEngine()))

	seen := map[uuid.UUID]bool{}
	sum := 0
	var list domain.MatterList
	for page := 1; page <= 3; page++ {
		var err error
		list, err = svc.ListMatters(context.Background(), domain.MatterListParams{Page: page, Limit: 3})
		gt.NoError(t, err).Required()
		sum += len(list.Data)
		for _, m := range list.Data {
			seen[m.ID] = true
		}
	}

	gt.Value(t, list.Total).Equal(7)
	gt.Value(t, list.TotalPages).Equal(3)
	gt.Value(t, sum).Equal(7)
	gt.Number(t, len(seen)).Equal(7)
}

func TestListMattersDerivesCycleTime(t *testing.T) {
	repo := newStubMatterRepo()
	id := uuid.New()
	first := testNow.Add(-5 * time.Hour)
	repo.rows = []repository.MatterRow{{
		ID:                id,
		CreatedAt:         first,
		TransitionedFirst: ptr(first),
		TransitionedLast:  ptr(first.Add(2 * time.Hour)),
	}}
	statusID := uuid.New()
	repo.fieldRows[id] = []repository.FieldValueRow{{
		MatterID:        id,
		FieldID:         uuid.New(),
		FieldName:       "Status",
		FieldType:       domain.FieldTypeStatus,
		StatusOptionID:  &statusID,
		StatusLabel:     str("Closed"),
		StatusGroupName: str("Done"),
	}}

	svc := NewMatterService(repo, &stubFieldRepo{}, WithEngine(testEngine()))
	list, err := svc.ListMatters(context.Background(), domain.MatterListParams{})
	gt.NoError(t, err).Required()
	gt.Array(t, list.Data).Length(1).Required()

	m := list.Data[0]
	gt.Value(t, m.SLA).Equal(domain.SLAMet)
	gt.Value(t, m.CycleTime.ResolutionTimeFormatted).Equal("2h")
	gt.Bool(t, m.CycleTime.IsInProgress).False()
	gt.Value(t, *m.Fields["Status"].DisplayValue).Equal("Closed")
}

func slaFixture(repo *stubMatterRepo) (inProgress, metFast, metSlow, breached uuid.UUID) {
	inProgress = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	metFast = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	metSlow = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	breached = uuid.MustParse("00000000-0000-0000-0000-00000000000d")

	start := testNow.Add(-48 * time.Hour)
	repo.candidates = []repository.CandidateRow{
		{ID: breached, TransitionedFirst: ptr(start), TransitionedLast: ptr(start.Add(10 * time.Hour)), CurrentPhase: "Done"},
		{ID: metSlow, TransitionedFirst: ptr(start), TransitionedLast: ptr(start.Add(3 * time.Hour)), CurrentPhase: "Done"},
		{ID: inProgress, TransitionedFirst: ptr(start), TransitionedLast: ptr(start.Add(time.Hour)), CurrentPhase: "In Progress"},
		{ID: metFast, TransitionedFirst: ptr(start), TransitionedLast: ptr(start.Add(time.Hour)), CurrentPhase: "Done"},
	}
	for _, c := range repo.candidates {
		repo.rows = append(repo.rows, repository.MatterRow{
			ID:                c.ID,
			TransitionedFirst: c.TransitionedFirst,
			TransitionedLast:  c.TransitionedLast,
		})
	}
	return
}

func ids(matters []domain.Matter) []uuid.UUID {
	out := make([]uuid.UUID, len(matters))
	for i, m := range matters {
		out[i] = m.ID
	}
	return out
}

func TestListMattersSortsBySLA(t *testing.T) {
	repo := newStubMatterRepo()
	inProgress, metFast, metSlow, breached := slaFixture(repo)
	svc := NewMatterService(repo, &stubFieldRepo{}, WithEngine(testEngine()))
	ctx := context.Background()

	asc, err := svc.ListMatters(ctx, domain.MatterListParams{SortKey: domain.SortKeySLA, SortOrder: domain.SortDirectionAsc})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(asc.Data)).Equal([]uuid.UUID{inProgress, metFast, metSlow, breached})
	gt.Value(t, asc.Total).Equal(4)

	desc, err := svc.ListMatters(ctx, domain.MatterListParams{SortKey: domain.SortKeySLA, SortOrder: domain.SortDirectionDesc})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(desc.Data)).Equal([]uuid.UUID{breached, metSlow, metFast, inProgress})
}

func TestListMattersSLAPagesInMemory(t *testing.T) {
	repo := newStubMatterRepo()
	_, _, metSlow, breached := slaFixture(repo)
	svc := NewMatterService(repo, &stubFieldRepo{}, WithEngine(testEngine()))

	page, err := svc.ListMatters(context.Background(), domain.MatterListParams{
		SortKey:   domain.SortKeySLA,
		SortOrder: domain.SortDirectionAsc,
		Page:      2,
		Limit:     2,
	})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(page.Data)).Equal([]uuid.UUID{metSlow, breached})
	gt.Value(t, page.Total).Equal(4)
	gt.Value(t, page.TotalPages).Equal(2)

	beyond, err := svc.ListMatters(context.Background(), domain.MatterListParams{SortKey: domain.SortKeySLA, Page: 9, Limit: 2})
	gt.NoError(t, err).Required()
	gt.Array(t, beyond.Data).Length(0)
	gt.Value(t, beyond.Total).Equal(4)
}

func TestSortCandidatesUnknownDurationLast(t *testing.T) {
	ms := int64(1000)
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	c := uuid.MustParse("00000000-0000-0000-0000-000000000003")

	for _, dir := range []domain.SortDirection{domain.SortDirectionAsc, domain.SortDirectionDesc} {
		ranked := []rankedCandidate{{id: c}, {id: b, ms: &ms}, {id: a}}
		sortCandidates(ranked, dir)
		gt.Value(t, ranked[0].id).Equal(b)
		gt.Value(t, ranked[1].id).Equal(a)
		gt.Value(t, ranked[2].id).Equal(c)
	}
}

func TestCollectMattersWalksAllPages(t *testing.T) {
	repo := newStubMatterRepo()
	for i := 0; i < 5; i++ {
		repo.rows = append(repo.rows, repository.MatterRow{ID: uuid.New(), CreatedAt: testNow.Add(time.Duration(i) * time.Minute)})
	}
	svc := NewMatterService(repo, &stubFieldRepo{},
		WithEngine(testEngine()),
		WithCompiler(query.NewCompiler(query.WithPageSizes(2, 2))),
	)

	all, err := svc.CollectMatters(context.Background(), domain.MatterListParams{})
	gt.NoError(t, err).Required()
	gt.Array(t, all).Length(5)
}

func TestCollectMattersRanksSLAOnce(t *testing.T) {
	repo := newStubMatterRepo()
	inProgress, metFast, metSlow, breached := slaFixture(repo)
	svc := NewMatterService(repo, &stubFieldRepo{},
		WithEngine(testEngine()),
		WithCompiler(query.NewCompiler(query.WithPageSizes(2, 2))),
	)

	all, err := svc.CollectMatters(context.Background(), domain.MatterListParams{
		SortKey:   domain.SortKeySLA,
		SortOrder: domain.SortDirectionAsc,
	})
	gt.NoError(t, err).Required()
	gt.Value(t, ids(all)).Equal([]uuid.UUID{inProgress, metFast, metSlow, breached})
	gt.Value(t, repo.rankCalls).Equal(1)
}

func TestCollectMattersSLAEmpty(t *testing.T) {
	repo := newStubMatterRepo()
	svc := NewMatterService(repo, &stubFieldRepo{}, WithEngine(testEngine()))

	all, err := svc.CollectMatters(context.Background(), domain.MatterListParams{SortKey: domain.SortKeySLA})
	gt.NoError(t, err).Required()
	gt.Array(t, all).Length(0)
	gt.Value(t, repo.rankCalls).Equal(1)
}

func TestGetMatterByIDNotFound(t *testing.T) {
	svc := NewMatterService(newStubMatterRepo(), &stubFieldRepo{})
	m, err := svc.GetMatterByID(context.Background(), uuid.New())
	gt.NoError(t, err)
	gt.Value(t, m).Nil()
}

func TestGetMatterByIDReadsThroughCache(t *testing.T) {
	repo := newStubMatterRepo()
	id := uuid.New()
	repo.rows = []repository.MatterRow{{ID: id}}
	first := testNow.Add(-time.Hour)
	repo.boundaries[id] = domain.PhaseBoundaries{First: &first, Last: &first}

	cache := newMemoryCache()
	svc := NewMatterService(repo, &stubFieldRepo{}, WithEngine(testEngine()), WithBoundaryCache(cache))
	ctx := context.Background()

	m, err := svc.GetMatterByID(ctx, id)
	gt.NoError(t, err).Required()
	gt.Value(t, m).NotNil().Required()
	gt.Value(t, *m.TransitionedFirst).Equal(first)
	gt.Value(t, repo.boundsCalls).Equal(1)
	gt.Value(t, cache.sets).Equal(1)

	_, err = svc.GetMatterByID(ctx, id)
	gt.NoError(t, err).Required()
	gt.Value(t, repo.boundsCalls).Equal(1)
}

func TestGetMatterByIDCacheFailureFallsBackToStore(t *testing.T) {
	repo := newStubMatterRepo()
	id := uuid.New()
	repo.rows = []repository.MatterRow{{ID: id}}

	cache := newMemoryCache()
	cache.failGet = true
	svc := NewMatterService(repo, &stubFieldRepo{}, WithBoundaryCache(cache))

	m, err := svc.GetMatterByID(context.Background(), id)
	gt.NoError(t, err).Required()
	gt.Value(t, m).NotNil()
	gt.Value(t, repo.boundsCalls).Equal(1)
}

type updateFixture struct {
	repo     *stubMatterRepo
	cache    *memoryCache
	svc      *MatterService
	matterID uuid.UUID
	status   domain.Field
	priority domain.Field
	todo     uuid.UUID
	done     uuid.UUID
}

func newUpdateFixture() updateFixture {
	f := updateFixture{
		repo:     newStubMatterRepo(),
		cache:    newMemoryCache(),
		matterID: uuid.New(),
		todo:     uuid.New(),
		done:     uuid.New(),
	}
	f.repo.rows = []repository.MatterRow{{ID: f.matterID, CreatedAt: testNow}}
	f.status = domain.Field{
		ID:        uuid.New(),
		Name:      "Status",
		FieldType: domain.FieldTypeStatus,
		StatusOptions: []domain.StatusOption{
			{ID: f.todo, Label: "Open", GroupName: "To Do"},
			{ID: f.done, Label: "Closed", GroupName: "Done"},
		},
	}
	f.priority = domain.Field{
		ID:        uuid.New(),
		Name:      "Priority",
		FieldType: domain.FieldTypeSelect,
		Options:   []domain.FieldOption{{ID: uuid.New(), Label: "High"}},
	}
	fields := &stubFieldRepo{catalog: domain.FieldCatalog{Fields: []domain.Field{f.status, f.priority}}}
	f.svc = NewMatterService(f.repo, fields, WithEngine(testEngine()), WithBoundaryCache(f.cache))
	return f
}

func TestUpdateMatterFieldAppendsOneTransition(t *testing.T) {
	f := newUpdateFixture()
	ctx := context.Background()

	m, err := f.svc.UpdateMatterField(ctx, 1, domain.MatterUpdate{
		MatterID:  f.matterID,
		FieldID:   f.status.ID,
		FieldType: domain.FieldTypeStatus,
		Value:     domain.StatusValue{StatusID: f.todo},
		ActorID:   9,
	})
	gt.NoError(t, err).Required()
	gt.Value(t, m).NotNil()

	history, err := f.svc.ListTransitions(ctx, f.matterID)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(1).Required()
	gt.Value(t, history[0].FromStatusID).Nil()
	gt.Value(t, history[0].ToStatusID).Equal(f.todo)

	_, err = f.svc.UpdateMatterField(ctx, 1, domain.MatterUpdate{
		MatterID:  f.matterID,
		FieldID:   f.status.ID,
		FieldType: domain.FieldTypeStatus,
		Value:     domain.StatusValue{StatusID: f.done},
	})
	gt.NoError(t, err).Required()

	history, err = f.svc.ListTransitions(ctx, f.matterID)
	gt.NoError(t, err).Required()
	gt.Array(t, history).Length(2).Required()
	gt.Value(t, *history[1].FromStatusID).Equal(f.todo)

	cached, ok := f.cache.entries[f.matterID]
	gt.Bool(t, ok).True()
	gt.Value(t, *cached.First).Equal(testNow)
}

func TestUpdateMatterFieldEvictsWhenCacheWriteFails(t *testing.T) {
	f := newUpdateFixture()
	ctx := context.Background()

	stale := testNow.Add(-24 * time.Hour)
	f.repo.boundaries[f.matterID] = domain.PhaseBoundaries{First: &stale, Last: &stale}
	_, err := f.svc.GetMatterByID(ctx, f.matterID)
	gt.NoError(t, err).Required()
	gt.Value(t, *f.cache.entries[f.matterID].Last).Equal(stale)

	f.cache.failSet = true
	m, err := f.svc.UpdateMatterField(ctx, 1, domain.MatterUpdate{
		MatterID:  f.matterID,
		FieldID:   f.status.ID,
		FieldType: domain.FieldTypeStatus,
		Value:     domain.StatusValue{StatusID: f.todo},
	})
	gt.NoError(t, err).Required()
	gt.Value(t, m).NotNil().Required()
	gt.Value(t, *m.TransitionedLast).Equal(testNow)
	gt.Value(t, f.cache.deletes).Equal(1)
	_, cached := f.cache.entries[f.matterID]
	gt.Bool(t, cached).False()

	f.cache.failSet = false
	again, err := f.svc.GetMatterByID(ctx, f.matterID)
	gt.NoError(t, err).Required()
	gt.Value(t, *again.TransitionedLast).Equal(testNow)
}

func TestUpdateMatterFieldSurvivesFailedEviction(t *testing.T) {
	f := newUpdateFixture()
	f.cache.failSet = true
	f.cache.failDelete = true

	m, err := f.svc.UpdateMatterField(context.Background(), 1, domain.MatterUpdate{
		MatterID:  f.matterID,
		FieldID:   f.status.ID,
		FieldType: domain.FieldTypeStatus,
		Value:     domain.StatusValue{StatusID: f.done},
	})
	gt.NoError(t, err).Required()
	gt.Value(t, m).NotNil().Required()
	gt.Value(t, *m.TransitionedFirst).Equal(testNow)
	gt.Value(t, f.cache.deletes).Equal(1)
}

func TestUpdateMatterFieldValidation(t *testing.T) {
	tests := []struct {
		name   string
		update func(f updateFixture) domain.MatterUpdate
		want   error
	}{
		{
			name: "unsupported type",
			update: func(f updateFixture) domain.MatterUpdate {
				return domain.MatterUpdate{MatterID: f.matterID, FieldID: f.status.ID, FieldType: domain.FieldType("geo")}
			},
			want: domain.ErrUnsupportedFieldType,
		},
		{
			name: "unknown field",
			update: func(f updateFixture) domain.MatterUpdate {
				return domain.MatterUpdate{MatterID: f.matterID, FieldID: uuid.New(), FieldType: domain.FieldTypeText, Value: domain.TextValue("x")}
			},
			want: domain.ErrFieldNotFound,
		},
		{
			name: "type differs from catalog",
			update: func(f updateFixture) domain.MatterUpdate {
				return domain.MatterUpdate{MatterID: f.matterID, FieldID: f.status.ID, FieldType: domain.FieldTypeText, Value: domain.TextValue("x")}
			},
			want: domain.ErrValueTypeMismatch,
		},
		{
			name: "status option of another field",
			update: func(f updateFixture) domain.MatterUpdate {
				return domain.MatterUpdate{MatterID: f.matterID, FieldID: f.status.ID, FieldType: domain.FieldTypeStatus, Value: domain.StatusValue{StatusID: uuid.New()}}
			},
			want: domain.ErrUnknownOption,
		},
		{
			name: "unknown select option",
			update: func(f updateFixture) domain.MatterUpdate {
				return domain.MatterUpdate{MatterID: f.matterID, FieldID: f.priority.ID, FieldType: domain.FieldTypeSelect, Value: domain.SelectValue{OptionID: uuid.New()}}
			},
			want: domain.ErrUnknownOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUpdateFixture()
			_, err := f.svc.UpdateMatterField(context.Background(), 1, tt.update(f))
			gt.Error(t, err).Is(tt.want)
			gt.Array(t, f.repo.updates).Length(0)
			gt.Number(t, len(f.repo.history[f.matterID])).Equal(0)
		})
	}
}

func TestUpdateMatterFieldMissingMatter(t *testing.T) {
	f := newUpdateFixture()
	_, err := f.svc.UpdateMatterField(context.Background(), 1, domain.MatterUpdate{
		MatterID:  uuid.New(),
		FieldID:   f.priority.ID,
		FieldType: domain.FieldTypeSelect,
		Value:     domain.SelectValue{OptionID: f.priority.Options[0].ID},
	})
	gt.Error(t, err).Is(domain.ErrMatterNotFound)
	gt.Number(t, f.cache.sets).Equal(0)
}

func TestTotalPages(t *testing.T) {
	gt.Value(t, totalPages(0, 25)).Equal(0)
	gt.Value(t, totalPages(25, 25)).Equal(1)
	gt.Value(t, totalPages(26, 25)).Equal(2)
}
