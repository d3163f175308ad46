package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"authgate/internal/user/domain"
)

const uniqueViolationCode = "23505"

// PostgresRepository persists users in Postgres. Roles are stored as a JSON
// array column, not a delimited string.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, roles, created_at, updated_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// Lookup is case-sensitive, matching the unique index.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, roles, created_at, updated_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned by
// this method. Returns ErrDuplicateEmail on a unique-index violation.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	rolesJSON, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("marshal roles: %w", err)
	}
	hash := sql.NullString{String: u.PasswordHash, Valid: u.PasswordHash != ""}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, roles, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, hash, rolesJSON, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var (
		u         domain.User
		hash      sql.NullString
		rolesJSON []byte
	)
	err := row.Scan(&u.ID, &u.Email, &hash, &rolesJSON, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if hash.Valid {
		u.PasswordHash = hash.String
	}
	if len(rolesJSON) > 0 {
		if err := json.Unmarshal(rolesJSON, &u.Roles); err != nil {
			// Legacy rows stored a single comma-joined string.
			var joined string
			if err2 := json.Unmarshal(rolesJSON, &joined); err2 != nil {
				return nil, fmt.Errorf("unmarshal roles: %w", err)
			}
			u.Roles = []string{joined}
		}
	}
	u.Roles = domain.NormalizeRoles(u.Roles)
	return &u, nil
}
