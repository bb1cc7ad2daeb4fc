package budget

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
	"github.com/odyssey-erp/ledger/internal/platform/db"
)

// PGRepository stores budgets in Postgres.
type PGRepository struct {
	q db.Querier
}

// NewPGRepository constructs the repository.
func NewPGRepository(q db.Querier) *PGRepository {
	return &PGRepository{q: q}
}

const budgetColumns = `b.id, b.year, b.month, b.type, b.cost_center_id, b.project_id, b.account_id, a.code, b.budgeted_amount, b.created_by, b.created_at
FROM budgets b JOIN accounts a ON a.id = b.account_id`

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	err := row.Scan(&b.ID, &b.Year, &b.Month, &b.Type, &b.CostCenterID, &b.ProjectID, &b.AccountID, &b.AccountCode, &b.BudgetedAmount, &b.CreatedBy, &b.CreatedAt)
	return b, err
}

func (r *PGRepository) InsertBudget(ctx context.Context, b Budget) (Budget, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO budgets (year, month, type, cost_center_id, project_id, account_id, budgeted_amount, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		b.Year, b.Month, b.Type, b.CostCenterID, b.ProjectID, b.AccountID, b.BudgetedAmount, b.CreatedBy).Scan(&b.ID, &b.CreatedAt)
	return b, err
}

func (r *PGRepository) GetBudget(ctx context.Context, id int64) (Budget, error) {
	b, err := scanBudget(r.q.QueryRow(ctx, `SELECT `+budgetColumns+` WHERE b.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Budget{}, shared.NotFoundf("budget %d", id)
	}
	return b, err
}

func (r *PGRepository) ListBudgets(ctx context.Context, year int, month *int) ([]Budget, error) {
	query := `SELECT ` + budgetColumns + ` WHERE b.year=$1`
	args := []any{year}
	if month != nil {
		query += ` AND b.month=$2`
		args = append(args, *month)
	}
	rows, err := r.q.Query(ctx, query+` ORDER BY a.code, b.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var budgets []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}
