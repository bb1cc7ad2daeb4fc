package mappings

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// Repository resolves and maintains account mappings.
type Repository interface {
	Get(ctx context.Context, module, key string) (AccountMapping, error)
	Upsert(ctx context.Context, mapping AccountMapping) error
	List(ctx context.Context) ([]AccountMapping, error)
}

type repository struct {
	db db.Querier
}

// NewRepository builds the PostgreSQL mapping repository.
func NewRepository(q db.Querier) Repository {
	return &repository{db: q}
}

// Normalize upper-cases the module and trims both parts of a mapping key.
func Normalize(module, key string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(module)), strings.TrimSpace(key)
}

// Get resolves an account mapping for the specified key.
func (r *repository) Get(ctx context.Context, module, key string) (AccountMapping, error) {
	module, key = Normalize(module, key)
	if module == "" || key == "" {
		return AccountMapping{}, shared.Validationf("mapping module and key required")
	}
	var mapping AccountMapping
	err := r.db.QueryRow(ctx, `SELECT module, key, account_code, created_at, updated_at FROM account_mappings WHERE module=$1 AND key=$2`, module, key).
		Scan(&mapping.Module, &mapping.Key, &mapping.AccountCode, &mapping.CreatedAt, &mapping.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountMapping{}, shared.NotFoundf("account mapping %s/%s", module, key)
		}
		return AccountMapping{}, err
	}
	return mapping, nil
}

// Upsert stores or replaces the account behind a mapping key.
func (r *repository) Upsert(ctx context.Context, mapping AccountMapping) error {
	module, key := Normalize(mapping.Module, mapping.Key)
	if module == "" || key == "" || mapping.AccountCode == "" {
		return shared.Validationf("mapping module, key and account required")
	}
	_, err := r.db.Exec(ctx, `INSERT INTO account_mappings (module, key, account_code) VALUES ($1,$2,$3)
ON CONFLICT (module, key) DO UPDATE SET account_code=EXCLUDED.account_code, updated_at=NOW()`, module, key, mapping.AccountCode)
	return err
}

// List returns all mappings ordered by module and key.
func (r *repository) List(ctx context.Context) ([]AccountMapping, error) {
	rows, err := r.db.Query(ctx, `SELECT module, key, account_code, created_at, updated_at FROM account_mappings ORDER BY module, key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountMapping
	for rows.Next() {
		var m AccountMapping
		if err := rows.Scan(&m.Module, &m.Key, &m.AccountCode, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
