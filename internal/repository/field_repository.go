package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rpattn/matters/internal/domain"
)

// fieldRepository implements FieldRepository interface
type fieldRepository struct {
	pool *pgxpool.Pool
}

// NewFieldRepository creates a new field repository
func NewFieldRepository(pool *pgxpool.Pool) FieldRepository {
	return &fieldRepository{pool: pool}
}

// Catalog loads every live field of the account with its options, plus the
// status groups and currency options.
func (r *fieldRepository) Catalog(ctx context.Context, accountID int64) (domain.FieldCatalog, error) {
	fields, err := r.listFields(ctx, accountID)
	if err != nil {
		return domain.FieldCatalog{}, err
	}

	index := make(map[uuid.UUID]int, len(fields))
	for i, field := range fields {
		index[field.ID] = i
	}

	if err := r.attachOptions(ctx, accountID, fields, index); err != nil {
		return domain.FieldCatalog{}, err
	}
	if err := r.attachStatusOptions(ctx, accountID, fields, index); err != nil {
		return domain.FieldCatalog{}, err
	}

	groups, err := r.listStatusGroups(ctx, accountID)
	if err != nil {
		return domain.FieldCatalog{}, err
	}
	currencies, err := r.listCurrencyOptions(ctx, accountID)
	if err != nil {
		return domain.FieldCatalog{}, err
	}

	return domain.FieldCatalog{
		Fields:          fields,
		StatusGroups:    groups,
		CurrencyOptions: currencies,
	}, nil
}

func (r *fieldRepository) listFields(ctx context.Context, accountID int64) ([]domain.Field, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, name, field_type, COALESCE(description, ''), metadata, system_field
		FROM ticketing_fields
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY name, id`, accountID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list fields", goerr.V("account_id", accountID))
	}
	defer rows.Close()

	fields := make([]domain.Field, 0)
	for rows.Next() {
		var (
			field     domain.Field
			fieldType string
			metadata  []byte
		)
		if err := rows.Scan(&field.ID, &field.AccountID, &field.Name, &fieldType, &field.Description, &metadata, &field.SystemField); err != nil {
			return nil, goerr.Wrap(err, "failed to scan field")
		}
		field.FieldType = domain.FieldType(fieldType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &field.Metadata); err != nil {
				return nil, goerr.Wrap(err, "failed to decode field metadata", goerr.V("field_id", field.ID))
			}
		}
		fields = append(fields, field)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate fields")
	}
	return fields, nil
}

func (r *fieldRepository) attachOptions(ctx context.Context, accountID int64, fields []domain.Field, index map[uuid.UUID]int) error {
	rows, err := r.pool.Query(ctx, `
		SELECT o.id, o.ticket_field_id, o.label, o.sequence
		FROM ticketing_field_options o
		JOIN ticketing_fields f ON f.id = o.ticket_field_id
		WHERE f.account_id = $1 AND f.deleted_at IS NULL AND o.deleted_at IS NULL
		ORDER BY o.sequence, o.label`, accountID)
	if err != nil {
		return goerr.Wrap(err, "failed to list field options", goerr.V("account_id", accountID))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			option  domain.FieldOption
			fieldID uuid.UUID
		)
		if err := rows.Scan(&option.ID, &fieldID, &option.Label, &option.Sequence); err != nil {
			return goerr.Wrap(err, "failed to scan field option")
		}
		if i, ok := index[fieldID]; ok {
			fields[i].Options = append(fields[i].Options, option)
		}
	}
	if err := rows.Err(); err != nil {
		return goerr.Wrap(err, "failed to iterate field options")
	}
	return nil
}

func (r *fieldRepository) attachStatusOptions(ctx context.Context, accountID int64, fields []domain.Field, index map[uuid.UUID]int) error {
	rows, err := r.pool.Query(ctx, `
		SELECT so.id, so.ticket_field_id, so.label, so.group_id, sg.name, so.sequence
		FROM ticketing_field_status_options so
		JOIN ticketing_fields f ON f.id = so.ticket_field_id
		JOIN ticketing_field_status_groups sg ON sg.id = so.group_id
		WHERE f.account_id = $1 AND f.deleted_at IS NULL AND so.deleted_at IS NULL
		ORDER BY so.sequence, so.label`, accountID)
	if err != nil {
		return goerr.Wrap(err, "failed to list status options", goerr.V("account_id", accountID))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			option  domain.StatusOption
			fieldID uuid.UUID
		)
		if err := rows.Scan(&option.ID, &fieldID, &option.Label, &option.GroupID, &option.GroupName, &option.Sequence); err != nil {
			return goerr.Wrap(err, "failed to scan status option")
		}
		if i, ok := index[fieldID]; ok {
			fields[i].StatusOptions = append(fields[i].StatusOptions, option)
		}
	}
	if err := rows.Err(); err != nil {
		return goerr.Wrap(err, "failed to iterate status options")
	}
	return nil
}

func (r *fieldRepository) listStatusGroups(ctx context.Context, accountID int64) ([]domain.StatusGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, sequence
		FROM ticketing_field_status_groups
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY sequence, name`, accountID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list status groups", goerr.V("account_id", accountID))
	}
	defer rows.Close()

	groups := make([]domain.StatusGroup, 0)
	for rows.Next() {
		var group domain.StatusGroup
		if err := rows.Scan(&group.ID, &group.Name, &group.Sequence); err != nil {
			return nil, goerr.Wrap(err, "failed to scan status group")
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate status groups")
	}
	return groups, nil
}

func (r *fieldRepository) listCurrencyOptions(ctx context.Context, accountID int64) ([]domain.CurrencyOption, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, name, COALESCE(symbol, ''), sequence
		FROM ticketing_currency_field_options
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY sequence, code`, accountID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list currency options", goerr.V("account_id", accountID))
	}
	defer rows.Close()

	options := make([]domain.CurrencyOption, 0)
	for rows.Next() {
		var option domain.CurrencyOption
		if err := rows.Scan(&option.ID, &option.Code, &option.Name, &option.Symbol, &option.Sequence); err != nil {
			return nil, goerr.Wrap(err, "failed to scan currency option")
		}
		options = append(options, option)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to iterate currency options")
	}
	return options, nil
}
