package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rpattn/matters/internal/db"
	"github.com/rpattn/matters/internal/domain"
	"github.com/rpattn/matters/internal/query"
)

// matterRepository implements MatterRepository interface
type matterRepository struct {
	conn *db.Connection
}

// NewMatterRepository creates a new matter repository
func NewMatterRepository(conn *db.Connection) MatterRepository {
	return &matterRepository{conn: conn}
}

const matterBoundsSelect = `
	SELECT tt.id, tt.board_id, tt.created_at, tt.updated_at,
		bounds.first_transitioned, bounds.last_transitioned
	FROM ticketing_ticket tt
	LEFT JOIN LATERAL (
		SELECT MIN(h.transitioned_at) AS first_transitioned,
			MAX(h.transitioned_at) AS last_transitioned
		FROM ticketing_cycle_time_histories h
		WHERE h.ticket_id = tt.id
	) bounds ON TRUE`

// List runs the paged query and the independent count query of the plan.
func (r *matterRepository) List(ctx context.Context, plan query.Plan) ([]MatterRow, int, error) {
	if plan.Mode != query.ModePaged {
		return nil, 0, goerr.New("plan is not paged", goerr.V("sort_type", plan.SortType))
	}

	rows, err := r.conn.Pool.Query(ctx, plan.Query, plan.Args...)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to list matters", goerr.V("sort_type", plan.SortType))
	}
	defer rows.Close()

	matters := make([]MatterRow, 0, plan.Limit)
	for rows.Next() {
		var (
			row         MatterRow
			first, last pgtype.Timestamptz
			sortValue   any
		)
		if err := rows.Scan(&row.ID, &row.BoardID, &row.CreatedAt, &row.UpdatedAt, &first, &last, &sortValue); err != nil {
			return nil, 0, goerr.Wrap(err, "failed to scan matter")
		}
		row.TransitionedFirst = timestamptzPtr(first)
		row.TransitionedLast = timestamptzPtr(last)
		matters = append(matters, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, goerr.Wrap(err, "failed to iterate matters")
	}

	total, err := r.count(ctx, plan)
	if err != nil {
		return nil, 0, err
	}

	return matters, total, nil
}

// ListCandidates runs a materialized plan. Rows come back in id order.
func (r *matterRepository) ListCandidates(ctx context.Context, plan query.Plan) ([]CandidateRow, error) {
	if plan.Mode != query.ModeMaterialized {
		return nil, goerr.New("plan is not materialized", goerr.V("sort_type", plan.SortType))
	}

	rows, err := r.conn.Pool.Query(ctx, plan.Query, plan.Args...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list matter candidates", goerr.V("sort_type", plan.SortType))
	}
	defer rows.Close()

	candidates := make([]CandidateRow, 0)
	for rows.Next() {
		var (
			row         CandidateRow
			first, last pgtype.Timestamptz
			phase       pgtype.Text
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &first, &last, &phase); err != nil {
			return nil, goerr.Wrap(err, "failed to scan matter candidate")
		}
		row.TransitionedFirst = timestamptzPtr(first)
		row.TransitionedLast = timestamptzPtr(last)
		row.CurrentPhase = phase.String
		candidates = append(candidates, row)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate matter candidates")
	}
	return candidates, nil
}

func (r *matterRepository) count(ctx context.Context, plan query.Plan) (int, error) {
	var total int64
	if err := r.conn.Pool.QueryRow(ctx, plan.CountQuery, plan.CountArgs...).Scan(&total); err != nil {
		return 0, goerr.Wrap(err, "failed to count matters")
	}
	return int(total), nil
}

// GetByID reads a matter's own columns. Bounds are left unset; callers
// resolve them through PhaseBoundaries or the boundary cache.
func (r *matterRepository) GetByID(ctx context.Context, id uuid.UUID) (MatterRow, error) {
	var row MatterRow
	err := r.conn.Pool.QueryRow(ctx, `
		SELECT id, board_id, created_at, updated_at
		FROM ticketing_ticket
		WHERE id = $1`, id).Scan(&row.ID, &row.BoardID, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MatterRow{}, goerr.Wrap(domain.ErrMatterNotFound, "failed to get matter", goerr.V("matter_id", id))
		}
		return MatterRow{}, goerr.Wrap(err, "failed to get matter", goerr.V("matter_id", id))
	}
	return row, nil
}

// GetByIDs reads several matters with their bounds. Missing ids are skipped.
func (r *matterRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]MatterRow, error) {
	if len(ids) == 0 {
		return []MatterRow{}, nil
	}

	rows, err := r.conn.Pool.Query(ctx, matterBoundsSelect+` WHERE tt.id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get matters by ids", goerr.V("count", len(ids)))
	}
	defer rows.Close()

	matters := make([]MatterRow, 0, len(ids))
	for rows.Next() {
		var (
			row         MatterRow
			first, last pgtype.Timestamptz
		)
		if err := rows.Scan(&row.ID, &row.BoardID, &row.CreatedAt, &row.UpdatedAt, &first, &last); err != nil {
			return nil, goerr.Wrap(err, "failed to scan matter")
		}
		row.TransitionedFirst = timestamptzPtr(first)
		row.TransitionedLast = timestamptzPtr(last)
		matters = append(matters, row)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate matters")
	}
	return matters, nil
}

// FieldValues loads the EAV rows of the given matters, grouped by matter and
// ordered by field name.
func (r *matterRepository) FieldValues(ctx context.Context, matterIDs []uuid.UUID) (map[uuid.UUID][]FieldValueRow, error) {
	result := make(map[uuid.UUID][]FieldValueRow, len(matterIDs))
	if len(matterIDs) == 0 {
		return result, nil
	}

	rows, err := r.conn.Pool.Query(ctx, `
		SELECT fv.ticket_id, f.id, f.name, f.field_type,
			fv.text_value, fv.string_value, fv.number_value, fv.date_value, fv.boolean_value, fv.currency_value,
			fv.user_value::bigint, u.email, u.first_name, u.last_name,
			fv.select_reference_value_uuid, so.label,
			fv.status_reference_value_uuid, sto.label, sg.name
		FROM ticketing_ticket_field_value fv
		JOIN ticketing_fields f ON f.id = fv.ticket_field_id AND f.deleted_at IS NULL
		LEFT JOIN users u ON u.id = fv.user_value
		LEFT JOIN ticketing_field_options so ON so.id = fv.select_reference_value_uuid
		LEFT JOIN ticketing_field_status_options sto ON sto.id = fv.status_reference_value_uuid
		LEFT JOIN ticketing_field_status_groups sg ON sg.id = sto.group_id
		WHERE fv.ticket_id = ANY($1::uuid[])
		ORDER BY fv.ticket_id, f.name, f.id`, matterIDs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load field values", goerr.V("count", len(matterIDs)))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			row                        FieldValueRow
			fieldType                  string
			text, str                  pgtype.Text
			number                     pgtype.Float8
			date                       pgtype.Date
			boolean                    pgtype.Bool
			userID                     pgtype.Int8
			email, firstName, lastName pgtype.Text
			selectID                   pgtype.UUID
			selectLabel                pgtype.Text
			statusID                   pgtype.UUID
			statusLabel, groupName     pgtype.Text
		)
		if err := rows.Scan(
			&row.MatterID, &row.FieldID, &row.FieldName, &fieldType,
			&text, &str, &number, &date, &boolean, &row.CurrencyValue,
			&userID, &email, &firstName, &lastName,
			&selectID, &selectLabel,
			&statusID, &statusLabel, &groupName,
		); err != nil {
			return nil, goerr.Wrap(err, "failed to scan field value")
		}

		row.FieldType = domain.FieldType(fieldType)
		row.TextValue = textPtr(text)
		row.StringValue = textPtr(str)
		row.NumberValue = float8Ptr(number)
		row.DateValue = datePtr(date)
		row.BooleanValue = boolPtr(boolean)
		row.UserID = int8Ptr(userID)
		row.UserEmail = textPtr(email)
		row.UserFirstName = textPtr(firstName)
		row.UserLastName = textPtr(lastName)
		row.SelectOptionID = uuidPtr(selectID)
		row.SelectLabel = textPtr(selectLabel)
		row.StatusOptionID = uuidPtr(statusID)
		row.StatusLabel = textPtr(statusLabel)
		row.StatusGroupName = textPtr(groupName)

		result[row.MatterID] = append(result[row.MatterID], row)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate field values")
	}
	return result, nil
}

// PhaseBoundaries returns the min/max transition timestamps of a matter.
func (r *matterRepository) PhaseBoundaries(ctx context.Context, matterID uuid.UUID) (domain.PhaseBoundaries, error) {
	return readBoundaries(ctx, r.conn.Pool, matterID)
}

// ListHistory returns a matter's transitions oldest first.
func (r *matterRepository) ListHistory(ctx context.Context, matterID uuid.UUID) ([]domain.TransitionHistoryEntry, error) {
	rows, err := r.conn.Pool.Query(ctx, `
		SELECT id, ticket_id, status_field_id, from_status_id, to_status_id, transitioned_at
		FROM ticketing_cycle_time_histories
		WHERE ticket_id = $1
		ORDER BY transitioned_at, id`, matterID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list transition history", goerr.V("matter_id", matterID))
	}
	defer rows.Close()

	entries := make([]domain.TransitionHistoryEntry, 0)
	for rows.Next() {
		var (
			entry domain.TransitionHistoryEntry
			from  pgtype.UUID
		)
		if err := rows.Scan(&entry.ID, &entry.MatterID, &entry.StatusFieldID, &from, &entry.ToStatusID, &entry.TransitionedAt); err != nil {
			return nil, goerr.Wrap(err, "failed to scan transition")
		}
		entry.FromStatusID = uuidPtr(from)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate transition history")
	}
	return entries, nil
}

// UpdateField writes one value inside a transaction: the matter row is
// touched first so concurrent writers on the same matter serialise, then
// the prior status is read, the transition appended and the value upserted.
func (r *matterRepository) UpdateField(ctx context.Context, update domain.MatterUpdate) (domain.PhaseBoundaries, error) {
	column, arg, err := valueColumn(update.FieldType, update.Value)
	if err != nil {
		return domain.PhaseBoundaries{}, err
	}

	var boundaries domain.PhaseBoundaries
	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE ticketing_ticket SET updated_at = NOW() WHERE id = $1`, update.MatterID)
		if err != nil {
			return goerr.Wrap(err, "failed to touch matter", goerr.V("matter_id", update.MatterID))
		}
		if tag.RowsAffected() == 0 {
			return goerr.Wrap(domain.ErrMatterNotFound, "failed to update matter field", goerr.V("matter_id", update.MatterID))
		}

		if status, ok := update.Value.(domain.StatusValue); ok {
			if err := appendTransition(ctx, tx, update, status.StatusID); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, upsertValueSQL(column), update.MatterID, update.FieldID, arg, update.ActorID); err != nil {
			return goerr.Wrap(err, "failed to upsert field value",
				goerr.V("matter_id", update.MatterID),
				goerr.V("field_id", update.FieldID),
				goerr.V("column", column),
			)
		}

		boundaries, err = readBoundaries(ctx, tx, update.MatterID)
		return err
	})
	if err != nil {
		return domain.PhaseBoundaries{}, err
	}

	return boundaries, nil
}

func appendTransition(ctx context.Context, tx pgx.Tx, update domain.MatterUpdate, to uuid.UUID) error {
	var prior pgtype.UUID
	err := tx.QueryRow(ctx, `
		SELECT status_reference_value_uuid
		FROM ticketing_ticket_field_value
		WHERE ticket_id = $1 AND ticket_field_id = $2
		FOR UPDATE`, update.MatterID, update.FieldID).Scan(&prior)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return goerr.Wrap(err, "failed to read prior status", goerr.V("matter_id", update.MatterID))
	}

	var from any
	if id := uuidPtr(prior); id != nil {
		from = *id
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ticketing_cycle_time_histories (id, ticket_id, status_field_id, from_status_id, to_status_id, transitioned_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New(), update.MatterID, update.FieldID, from, to)
	if err != nil {
		return goerr.Wrap(err, "failed to append transition",
			goerr.V("matter_id", update.MatterID),
			goerr.V("to_status_id", to),
		)
	}
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func readBoundaries(ctx context.Context, q rowQuerier, matterID uuid.UUID) (domain.PhaseBoundaries, error) {
	var first, last pgtype.Timestamptz
	err := q.QueryRow(ctx, `
		SELECT MIN(transitioned_at), MAX(transitioned_at)
		FROM ticketing_cycle_time_histories
		WHERE ticket_id = $1`, matterID).Scan(&first, &last)
	if err != nil {
		return domain.PhaseBoundaries{}, goerr.Wrap(err, "failed to read phase boundaries", goerr.V("matter_id", matterID))
	}
	return domain.PhaseBoundaries{First: timestamptzPtr(first), Last: timestamptzPtr(last)}, nil
}

// valueColumn maps a logical type onto its physical column and the driver
// argument for value. A nil value clears the column.
func valueColumn(fieldType domain.FieldType, value domain.Value) (string, any, error) {
	if value != nil && value.Type() != fieldType {
		return "", nil, goerr.Wrap(domain.ErrValueTypeMismatch, "value does not match field type",
			goerr.V("field_type", fieldType),
			goerr.V("value_type", value.Type()),
		)
	}

	switch fieldType {
	case domain.FieldTypeText:
		if v, ok := value.(domain.TextValue); ok {
			return "text_value", string(v), nil
		}
		return "text_value", nil, nil
	case domain.FieldTypeNumber:
		if v, ok := value.(domain.NumberValue); ok {
			return "number_value", float64(v), nil
		}
		return "number_value", nil, nil
	case domain.FieldTypeDate:
		if v, ok := value.(domain.DateValue); ok {
			return "date_value", v.Date, nil
		}
		return "date_value", nil, nil
	case domain.FieldTypeBoolean:
		if v, ok := value.(domain.BooleanValue); ok {
			return "boolean_value", bool(v), nil
		}
		return "boolean_value", nil, nil
	case domain.FieldTypeCurrency:
		if v, ok := value.(domain.CurrencyValue); ok {
			payload, err := json.Marshal(v)
			if err != nil {
				return "", nil, goerr.Wrap(err, "failed to encode currency value")
			}
			return "currency_value", payload, nil
		}
		return "currency_value", nil, nil
	case domain.FieldTypeUser:
		if v, ok := value.(domain.UserValue); ok {
			return "user_value", v.ID, nil
		}
		return "user_value", nil, nil
	case domain.FieldTypeSelect:
		if v, ok := value.(domain.SelectValue); ok {
			return "select_reference_value_uuid", v.OptionID, nil
		}
		return "select_reference_value_uuid", nil, nil
	case domain.FieldTypeStatus:
		if v, ok := value.(domain.StatusValue); ok {
			return "status_reference_value_uuid", v.StatusID, nil
		}
		return "status_reference_value_uuid", nil, nil
	}

	return "", nil, goerr.Wrap(domain.ErrUnsupportedFieldType, "no column for field type", goerr.V("field_type", fieldType))
}

// valueColumns are the physical value columns of a field value row.
var valueColumns = []string{
	"text_value",
	"string_value",
	"number_value",
	"date_value",
	"boolean_value",
	"currency_value",
	"user_value",
	"select_reference_value_uuid",
	"status_reference_value_uuid",
}

// upsertValueSQL writes column and clears every other value column, so a
// row holds at most one populated value. This also retires text left in
// the legacy string_value column.
func upsertValueSQL(column string) string {
	assignments := make([]string, 0, len(valueColumns))
	for _, c := range valueColumns {
		if c == column {
			assignments = append(assignments, c+" = EXCLUDED."+c)
			continue
		}
		assignments = append(assignments, c+" = NULL")
	}

	return `
		INSERT INTO ticketing_ticket_field_value (ticket_id, ticket_field_id, ` + column + `, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, NOW(), NOW())
		ON CONFLICT (ticket_id, ticket_field_id) DO UPDATE
		SET ` + strings.Join(assignments, ",\n\t\t\t") + `,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`
}
