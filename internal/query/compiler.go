// Package query compiles logical matter list requests into SQL against the
// EAV field value store.
package query

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/logging"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100

	// SortColumn is the neutral alias every sort expression is selected as.
	SortColumn = "sort_value"
)

const (
	boundsJoin = `LEFT JOIN LATERAL (
		SELECT MIN(h.transitioned_at) AS first_transitioned,
			MAX(h.transitioned_at) AS last_transitioned
		FROM ticketing_cycle_time_histories h
		WHERE h.ticket_id = tt.id
	) bounds ON TRUE`

	// The current phase is read from the first status field by name, the
	// same rule the assembler uses.
	currentPhaseJoin = `LEFT JOIN LATERAL (
		SELECT sg.name AS group_name
		FROM ticketing_ticket_field_value fv
		JOIN ticketing_fields f ON f.id = fv.ticket_field_id AND f.field_type = 'status'
		JOIN ticketing_field_status_options so ON so.id = fv.status_reference_value_uuid
		JOIN ticketing_field_status_groups sg ON sg.id = so.group_id
		WHERE fv.ticket_id = tt.id
		ORDER BY f.name
		LIMIT 1
	) phase ON TRUE`
)

// Fragments are the pieces of SQL a sort type contributes. They depend on
// the sort type alone.
type Fragments struct {
	// ValueJoin is set when the sort reads the EAV row of the sort field.
	ValueJoin bool
	// Join resolves an ordinal or display value (option sequence, surname).
	Join string
	// Select is the compared expression, aliased to SortColumn.
	Select string
	// Materialized marks sorts evaluated outside the store before paging.
	Materialized bool
}

// FragmentsFor returns the fragments for t. The switch must name every
// SortType; TestFragmentsCoverAllSortTypes enforces it.
func FragmentsFor(t domain.SortType) (Fragments, bool) {
	switch t {
	case domain.SortTypeCreatedAt:
		return Fragments{Select: "tt.created_at AS " + SortColumn}, true
	case domain.SortTypeText:
		// Some text fields were historically stored in the short column. An
		// empty long value falls back too, as in the assembler.
		return Fragments{ValueJoin: true, Select: "COALESCE(NULLIF(ttfv.text_value, ''), ttfv.string_value) AS " + SortColumn}, true
	case domain.SortTypeNumber:
		return Fragments{ValueJoin: true, Select: "ttfv.number_value AS " + SortColumn}, true
	case domain.SortTypeDate:
		return Fragments{ValueJoin: true, Select: "ttfv.date_value AS " + SortColumn}, true
	case domain.SortTypeBoolean:
		return Fragments{ValueJoin: true, Select: "ttfv.boolean_value AS " + SortColumn}, true
	case domain.SortTypeCurrency:
		return Fragments{ValueJoin: true, Select: "(ttfv.currency_value->>'amount')::numeric AS " + SortColumn}, true
	case domain.SortTypeStatus:
		return Fragments{
			ValueJoin: true,
			Join:      "LEFT JOIN ticketing_field_status_options tfso ON tfso.id = ttfv.status_reference_value_uuid",
			Select:    "tfso.sequence AS " + SortColumn,
		}, true
	case domain.SortTypeSelect:
		return Fragments{
			ValueJoin: true,
			Join:      "LEFT JOIN ticketing_field_options tfo ON tfo.id = ttfv.select_reference_value_uuid",
			Select:    "tfo.sequence AS " + SortColumn,
		}, true
	case domain.SortTypeUser:
		return Fragments{
			ValueJoin: true,
			Join:      "LEFT JOIN users u ON u.id = ttfv.user_value",
			Select:    "u.last_name AS " + SortColumn,
		}, true
	case domain.SortTypeResolutionTime:
		// Mirrors cycletime.Engine: the clock keeps running while the
		// current phase is In Progress or only one transition exists.
		return Fragments{
			Join: currentPhaseJoin,
			Select: fmt.Sprintf(`CASE WHEN bounds.last_transitioned = bounds.first_transitioned
					OR lower(btrim(phase.group_name)) IN (%s)
				THEN NOW() - bounds.first_transitioned
				ELSE bounds.last_transitioned - bounds.first_transitioned
			END AS %s`, sqlStringList(domain.PhaseInProgress.Aliases()), SortColumn),
		}, true
	case domain.SortTypeSLA:
		return Fragments{
			Join:         currentPhaseJoin,
			Select:       "phase.group_name AS current_phase",
			Materialized: true,
		}, true
	}
	return Fragments{}, false
}

func sqlStringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

// Request is a logical list request.
type Request struct {
	SortKey   string
	SortType  domain.SortType
	SortOrder domain.SortDirection
	Page      int
	PageSize  int
	Search    string
}

// Mode says how the service must run a plan.
type Mode int

const (
	// ModePaged plans are sorted and paged by the store.
	ModePaged Mode = iota
	// ModeMaterialized plans return every candidate; the caller evaluates,
	// sorts and pages them.
	ModeMaterialized
)

// Plan is a compiled list request.
type Plan struct {
	Mode      Mode
	SortType  domain.SortType
	Direction domain.SortDirection
	FieldID   *uuid.UUID
	Fragments Fragments
	// Fallback is set when the request could not be honoured and the
	// default sort was used instead.
	Fallback bool

	OrderColumn string
	Query       string
	Args        []any
	CountQuery  string
	CountArgs   []any

	Page   int
	Limit  int
	Offset int
}

// Compiler turns list requests into plans.
type Compiler struct {
	defaultPageSize int
	maxPageSize     int
	logger          *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithPageSizes overrides the default and maximum page sizes.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(c *Compiler) {
		if defaultSize > 0 {
			c.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			c.maxPageSize = maxSize
		}
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
		logger:          logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultPageSize > c.maxPageSize {
		c.defaultPageSize = c.maxPageSize
	}
	return c
}

// Compile builds the list and count queries for req.
func (c *Compiler) Compile(req Request) Plan {
	plan := Plan{
		Direction: req.SortOrder,
		Page:      req.Page,
		Limit:     req.PageSize,
	}
	if plan.Direction != domain.SortDirectionAsc {
		plan.Direction = domain.SortDirectionDesc
	}
	if plan.Page < 1 {
		plan.Page = 1
	}
	if plan.Limit < 1 {
		plan.Limit = c.defaultPageSize
	}
	if plan.Limit > c.maxPageSize {
		plan.Limit = c.maxPageSize
	}
	plan.Offset = (plan.Page - 1) * plan.Limit

	plan.SortType, plan.FieldID, plan.Fallback = c.resolveSort(req)
	plan.Fragments, _ = FragmentsFor(plan.SortType)
	plan.OrderColumn = SortColumn
	if plan.Fragments.Materialized {
		plan.Mode = ModeMaterialized
	}

	search := strings.TrimSpace(req.Search)

	countBuilder := newSQLBuilder()
	plan.CountQuery = "SELECT COUNT(*) FROM ticketing_ticket tt WHERE 1=1" + searchClause(countBuilder, search)
	plan.CountArgs = countBuilder.args

	if plan.Mode == ModeMaterialized {
		plan.Query, plan.Args = c.candidateQuery(plan, search)
	} else {
		plan.Query, plan.Args = c.pagedQuery(plan, search)
	}

	return plan
}

// resolveSort picks the effective sort type. Pseudo-column keys win over the
// requested type; anything unusable degrades to created_at.
func (c *Compiler) resolveSort(req Request) (domain.SortType, *uuid.UUID, bool) {
	switch strings.TrimSpace(req.SortKey) {
	case "", domain.SortKeyCreatedAt:
		return domain.SortTypeCreatedAt, nil, false
	case domain.SortKeyResolutionTime:
		return domain.SortTypeResolutionTime, nil, false
	case domain.SortKeySLA:
		return domain.SortTypeSLA, nil, false
	}

	fieldID, err := uuid.Parse(strings.TrimSpace(req.SortKey))
	if err != nil {
		c.logger.Warn("unrecognised sort key, using default sort", "sort_key", req.SortKey)
		return domain.SortTypeCreatedAt, nil, true
	}
	if !req.SortType.IsFieldSort() {
		c.logger.Warn("unrecognised sort type, using default sort",
			"sort_key", req.SortKey,
			"sort_type", string(req.SortType),
		)
		return domain.SortTypeCreatedAt, nil, true
	}
	return req.SortType, &fieldID, false
}

func (c *Compiler) pagedQuery(plan Plan, search string) (string, []any) {
	builder := newSQLBuilder()

	var from strings.Builder
	from.WriteString("FROM ticketing_ticket tt\n")
	from.WriteString(boundsJoin)
	from.WriteString("\n")
	if plan.Fragments.ValueJoin && plan.FieldID != nil {
		from.WriteString(fmt.Sprintf("LEFT JOIN ticketing_ticket_field_value ttfv ON ttfv.ticket_id = tt.id AND ttfv.ticket_field_id = %s\n",
			builder.bind(*plan.FieldID)))
	}
	if plan.Fragments.Join != "" {
		from.WriteString(plan.Fragments.Join)
		from.WriteString("\n")
	}
	from.WriteString("WHERE 1=1")
	from.WriteString(searchClause(builder, search))

	query := fmt.Sprintf(`SELECT tt.id, tt.board_id, tt.created_at, tt.updated_at,
	bounds.first_transitioned, bounds.last_transitioned,
	%s
%s
ORDER BY %s %s NULLS LAST, tt.id ASC
LIMIT %s OFFSET %s`,
		plan.Fragments.Select,
		from.String(),
		plan.OrderColumn, plan.Direction.SQL(),
		builder.bind(plan.Limit), builder.bind(plan.Offset),
	)

	return query, builder.args
}

func (c *Compiler) candidateQuery(plan Plan, search string) (string, []any) {
	builder := newSQLBuilder()

	query := fmt.Sprintf(`SELECT tt.id, tt.created_at,
	bounds.first_transitioned, bounds.last_transitioned,
	%s
FROM ticketing_ticket tt
%s
%s
WHERE 1=1%s
ORDER BY tt.id ASC`,
		plan.Fragments.Select,
		boundsJoin,
		plan.Fragments.Join,
		searchClause(builder, search),
	)

	return query, builder.args
}

// searchClause matches matters with any text, number, option label or user
// name containing search. It is a filter only; results are not ranked.
func searchClause(builder *sqlBuilder, search string) string {
	if search == "" {
		return ""
	}
	p := builder.bind(containsPattern(search))
	return fmt.Sprintf(` AND EXISTS (
		SELECT 1
		FROM ticketing_ticket_field_value sfv
		LEFT JOIN ticketing_field_options sfo ON sfo.id = sfv.select_reference_value_uuid
		LEFT JOIN ticketing_field_status_options sso ON sso.id = sfv.status_reference_value_uuid
		LEFT JOIN users su ON su.id = sfv.user_value
		WHERE sfv.ticket_id = tt.id AND (
			sfv.text_value ILIKE %[1]s
			OR sfv.string_value ILIKE %[1]s
			OR sfv.number_value::text ILIKE %[1]s
			OR sfo.label ILIKE %[1]s
			OR sso.label ILIKE %[1]s
			OR (su.first_name || ' ' || su.last_name) ILIKE %[1]s
		)
	)`, p)
}
