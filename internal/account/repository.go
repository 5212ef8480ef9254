package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the referenced account does not exist.
var ErrNotFound = errors.New("account not found")

// Repository persists account records. Balance mutation happens inside the
// transfer engine's unit of work, not through this interface.
type Repository interface {
	Create(ctx context.Context, acc Account) error
	Get(ctx context.Context, id uuid.UUID) (Account, error)
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an account record.
func (r *PostgresRepository) Create(ctx context.Context, acc Account) error {
	_, err := r.db.Exec(ctx, `INSERT INTO accounts (id, user_id, balance, currency, version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		acc.ID, acc.UserID, acc.Balance, acc.Currency, acc.Version, acc.CreatedAt.UTC())
	return err
}

// Get fetches an account by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT id, user_id, balance, currency, version, created_at
        FROM accounts WHERE id = $1`, id)

	var acc Account
	var createdAt time.Time
	if err := row.Scan(&acc.ID, &acc.UserID, &acc.Balance, &acc.Currency, &acc.Version, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	acc.CreatedAt = createdAt.UTC()
	return acc, nil
}
