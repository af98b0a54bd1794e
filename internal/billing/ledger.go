package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction kinds.
const (
	KindDebit = "debit"
	KindGrant = "grant"
)

// Ledger holds user credit balances.
type Ledger interface {
	// Debit subtracts credits and returns the new balance. The balance may go negative.
	Debit(ctx context.Context, userID, projectID string, credits, rawCost float64) (float64, error)
	Grant(ctx context.Context, userID string, credits float64) (float64, error)
	Balance(ctx context.Context, userID string) (float64, error)
}

// SQLiteLedger keeps balances in credit_balances and an audit trail in
// credit_transactions.
type SQLiteLedger struct {
	db           *sql.DB
	initialGrant float64
	now          func() time.Time
}

// NewSQLiteLedger creates a ledger. Users without a balance row start at initialGrant.
func NewSQLiteLedger(db *sql.DB, initialGrant float64) *SQLiteLedger {
	return &SQLiteLedger{db: db, initialGrant: initialGrant, now: time.Now}
}

// Balance returns the user's balance, or the initial grant for unknown users.
func (l *SQLiteLedger) Balance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := l.db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balances WHERE user_id = ?`, userID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return l.initialGrant, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

// Debit implements Ledger.
func (l *SQLiteLedger) Debit(ctx context.Context, userID, projectID string, credits, rawCost float64) (float64, error) {
	if credits < 0 {
		return 0, fmt.Errorf("debit amount must not be negative: %v", credits)
	}
	return l.apply(ctx, userID, projectID, -credits, rawCost, KindDebit)
}

// Grant adds credits to the user's balance.
func (l *SQLiteLedger) Grant(ctx context.Context, userID string, credits float64) (float64, error) {
	if credits <= 0 {
		return 0, fmt.Errorf("grant amount must be positive: %v", credits)
	}
	return l.apply(ctx, userID, "", credits, 0, KindGrant)
}

func (l *SQLiteLedger) apply(ctx context.Context, userID, projectID string, amount, rawCost float64, kind string) (float64, error) {
	if userID == "" {
		return 0, errors.New("user id is required")
	}
	now := l.now().Unix()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin %s: %w", kind, err)
	}
	defer tx.Rollback()

	var balance float64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = balance + ?,
			updated_at = excluded.updated_at
		RETURNING balance
	`, userID, l.initialGrant+amount, now, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	var project any
	if projectID != "" {
		project = projectID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, project_id, amount, raw_cost_usd, kind, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), userID, project, amount, rawCost, kind, balance, now)
	if err != nil {
		return 0, fmt.Errorf("record %s: %w", kind, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", kind, err)
	}
	return balance, nil
}
