package query

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"github.com/rpattn/matters/internal/domain"
)

func TestFragmentsCoverAllSortTypes(t *testing.T) {
	for _, st := range domain.AllSortTypes() {
		t.Run(string(st), func(t *testing.T) {
			frag, ok := FragmentsFor(st)
			gt.Bool(t, ok).True()
			gt.Bool(t, frag.Select != "").True()
		})
	}

	_, ok := FragmentsFor(domain.SortType("geo"))
	gt.Bool(t, ok).False()
}

func TestFragmentsFieldSortsReadValueRow(t *testing.T) {
	for _, ft := range domain.AllFieldTypes() {
		frag, _ := FragmentsFor(domain.SortType(ft))
		gt.Bool(t, frag.ValueJoin).True()
		gt.String(t, frag.Select).Contains("AS " + SortColumn)
	}
}

func TestFragmentsOrdinalSorts(t *testing.T) {
	status, _ := FragmentsFor(domain.SortTypeStatus)
	gt.String(t, status.Select).Contains("tfso.sequence")
	gt.String(t, status.Join).Contains("ticketing_field_status_options")

	sel, _ := FragmentsFor(domain.SortTypeSelect)
	gt.String(t, sel.Select).Contains("tfo.sequence")

	user, _ := FragmentsFor(domain.SortTypeUser)
	gt.String(t, user.Select).Contains("u.last_name")

	text, _ := FragmentsFor(domain.SortTypeText)
	gt.String(t, text.Select).Contains("COALESCE(NULLIF(ttfv.text_value, ''), ttfv.string_value)")
}

func TestCompileDefaults(t *testing.T) {
	plan := NewCompiler().Compile(Request{})

	gt.Value(t, plan.Mode).Equal(ModePaged)
	gt.Value(t, plan.SortType).Equal(domain.SortTypeCreatedAt)
	gt.Value(t, plan.Direction).Equal(domain.SortDirectionDesc)
	gt.Value(t, plan.Page).Equal(1)
	gt.Value(t, plan.Limit).Equal(DefaultPageSize)
	gt.Value(t, plan.Offset).Equal(0)
	gt.Bool(t, plan.Fallback).False()

	gt.String(t, plan.Query).Contains("ORDER BY sort_value DESC NULLS LAST, tt.id ASC")
	gt.String(t, plan.Query).Contains("LIMIT $1 OFFSET $2")
	gt.Value(t, plan.Args).Equal([]any{DefaultPageSize, 0})
	gt.Bool(t, strings.Contains(plan.Query, "ttfv")).False()
	gt.Value(t, plan.CountQuery).Equal("SELECT COUNT(*) FROM ticketing_ticket tt WHERE 1=1")
	gt.Array(t, plan.CountArgs).Length(0)
}

func TestCompilePaging(t *testing.T) {
	c := NewCompiler(WithPageSizes(10, 50))

	tests := []struct {
		name       string
		page, size int
		wantLimit  int
		wantOffset int
	}{
		{name: "first page", page: 1, size: 20, wantLimit: 20, wantOffset: 0},
		{name: "third page", page: 3, size: 20, wantLimit: 20, wantOffset: 40},
		{name: "page below one", page: -2, size: 20, wantLimit: 20, wantOffset: 0},
		{name: "default size", page: 2, size: 0, wantLimit: 10, wantOffset: 10},
		{name: "size clamped", page: 2, size: 500, wantLimit: 50, wantOffset: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := c.Compile(Request{Page: tt.page, PageSize: tt.size})
			gt.Value(t, plan.Limit).Equal(tt.wantLimit)
			gt.Value(t, plan.Offset).Equal(tt.wantOffset)
		})
	}
}

func TestCompileFieldSort(t *testing.T) {
	fieldID := uuid.New()
	plan := NewCompiler().Compile(Request{
		SortKey:   fieldID.String(),
		SortType:  domain.SortTypeStatus,
		SortOrder: domain.SortDirectionAsc,
		Page:      2,
		PageSize:  10,
	})

	gt.Value(t, plan.SortType).Equal(domain.SortTypeStatus)
	gt.Value(t, *plan.FieldID).Equal(fieldID)
	gt.String(t, plan.Query).Contains("ttfv.ticket_field_id = $1")
	gt.String(t, plan.Query).Contains("LEFT JOIN ticketing_field_status_options tfso")
	gt.String(t, plan.Query).Contains("ORDER BY sort_value ASC NULLS LAST, tt.id ASC")
	gt.String(t, plan.Query).Contains("LIMIT $2 OFFSET $3")
	gt.Value(t, plan.Args).Equal([]any{fieldID, 10, 10})
}

func TestCompileNullsLastBothDirections(t *testing.T) {
	fieldID := uuid.New().String()
	for _, dir := range []domain.SortDirection{domain.SortDirectionAsc, domain.SortDirectionDesc} {
		plan := NewCompiler().Compile(Request{SortKey: fieldID, SortType: domain.SortTypeNumber, SortOrder: dir})
		gt.String(t, plan.Query).Contains("sort_value " + dir.SQL() + " NULLS LAST")
	}
}

func TestCompilePseudoColumns(t *testing.T) {
	resolution := NewCompiler().Compile(Request{SortKey: domain.SortKeyResolutionTime, SortOrder: domain.SortDirectionAsc})
	gt.Value(t, resolution.Mode).Equal(ModePaged)
	gt.Value(t, resolution.SortType).Equal(domain.SortTypeResolutionTime)
	gt.String(t, resolution.Query).Contains("bounds.last_transitioned = bounds.first_transitioned")
	gt.String(t, resolution.Query).Contains("lower(btrim(phase.group_name)) IN ('in progress', 'inprogress', 'in-progress')")
	gt.String(t, resolution.Query).Contains("NOW() - bounds.first_transitioned")
	gt.String(t, resolution.Query).Contains("ORDER BY sort_value ASC NULLS LAST, tt.id ASC")

	sla := NewCompiler().Compile(Request{SortKey: domain.SortKeySLA, Page: 3, PageSize: 5})
	gt.Value(t, sla.Mode).Equal(ModeMaterialized)
	gt.Value(t, sla.SortType).Equal(domain.SortTypeSLA)
	// The lateral phase lookup has its own LIMIT 1; the page itself is cut
	// in memory, so no bound paging parameters appear.
	gt.Bool(t, strings.Contains(sla.Query, "LIMIT $")).False()
	gt.Bool(t, strings.Contains(sla.Query, "OFFSET")).False()
	gt.Array(t, sla.Args).Length(0)
	gt.String(t, sla.Query).Contains("phase.group_name AS current_phase")
	gt.Value(t, sla.Offset).Equal(10)
}

func TestSQLStringList(t *testing.T) {
	gt.Value(t, sqlStringList([]string{"done", "it's"})).Equal("'done', 'it''s'")
}

func TestCompileFallbacks(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "unknown key", req: Request{SortKey: "priority", SortType: domain.SortTypeText}},
		{name: "unknown type", req: Request{SortKey: uuid.NewString(), SortType: domain.SortType("geo")}},
		{name: "pseudo type on field key", req: Request{SortKey: uuid.NewString(), SortType: domain.SortTypeSLA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.SortOrder = domain.SortDirectionAsc
			plan := NewCompiler().Compile(tt.req)
			gt.Bool(t, plan.Fallback).True()
			gt.Value(t, plan.SortType).Equal(domain.SortTypeCreatedAt)
			gt.Value(t, plan.Direction).Equal(domain.SortDirectionAsc)
			gt.String(t, plan.Query).Contains("tt.created_at AS sort_value")
		})
	}
}

func TestCompileSearch(t *testing.T) {
	fieldID := uuid.New()
	plan := NewCompiler().Compile(Request{
		SortKey:  fieldID.String(),
		SortType: domain.SortTypeText,
		Search:   "  50%_off ",
	})

	gt.String(t, plan.Query).Contains("sfv.text_value ILIKE $2")
	gt.Value(t, plan.Args[1]).Equal(`%50\%\_off%`)
	gt.String(t, plan.CountQuery).Contains("sfv.text_value ILIKE $1")
	gt.Value(t, plan.CountArgs).Equal([]any{`%50\%\_off%`})
}

func TestContainsPattern(t *testing.T) {
	gt.Value(t, containsPattern("acme")).Equal("%acme%")
	gt.Value(t, containsPattern(`a\b`)).Equal(`%a\\b%`)
}
