package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRow is a row of the users table.
type UserRow struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	AvatarURL    string
	Role         string
	CreatedAt    time.Time
}

// MessageRow is a row of the messages table.
type MessageRow struct {
	ID         string
	SenderID   string
	ReceiverID string
	Text       string
	ImageKey   string
	CreatedAt  time.Time
}

// CreateUserParams are the inputs of CreateUser.
type CreateUserParams struct {
	Username     string
	PasswordHash string
	DisplayName  string
	Role         string
}

// CreateMessageParams are the inputs of CreateMessage. ID is generated by the caller.
type CreateMessageParams struct {
	ID         string
	SenderID   string
	ReceiverID string
	Text       string
	ImageKey   string
}

// Queries runs the repository statements against a pgx pool.
type Queries struct {
	pool *pgxpool.Pool
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

const userColumns = `id::text, username, password_hash, display_name, avatar_url, role, created_at`

func scanUser(row pgx.Row) (UserRow, error) {
	var u UserRow
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &u.AvatarURL, &u.Role, &u.CreatedAt)
	return u, err
}

// CreateUser inserts a user and returns the stored row.
func (q *Queries) CreateUser(ctx context.Context, p CreateUserParams) (UserRow, error) {
	row := q.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, display_name, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+userColumns,
		p.Username, p.PasswordHash, p.DisplayName, p.Role,
	)

	u, err := scanUser(row)
	if err != nil {
		return UserRow{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetUserByUsername looks a user up by login name.
func (q *Queries) GetUserByUsername(ctx context.Context, username string) (UserRow, error) {
	u, err := scanUser(q.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	return u, notFound(err)
}

// GetUserByID looks a user up by id.
func (q *Queries) GetUserByID(ctx context.Context, id string) (UserRow, error) {
	u, err := scanUser(q.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1::uuid`, id))
	return u, notFound(err)
}

// ListUsersExcept returns every user but excludeID, ordered by display name.
func (q *Queries) ListUsersExcept(ctx context.Context, excludeID string) ([]UserRow, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE id <> $1::uuid ORDER BY display_name, id`, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UserRow, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

const messageColumns = `id::text, sender_id::text, receiver_id::text, text, image_key, created_at`

func scanMessage(row pgx.Row) (MessageRow, error) {
	var m MessageRow
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.ImageKey, &m.CreatedAt)
	return m, err
}

// CreateMessage stores a message; created_at is assigned by the database.
func (q *Queries) CreateMessage(ctx context.Context, p CreateMessageParams) (MessageRow, error) {
	row := q.pool.QueryRow(ctx,
		`INSERT INTO messages (id, sender_id, receiver_id, text, image_key)
		 VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5)
		 RETURNING `+messageColumns,
		p.ID, p.SenderID, p.ReceiverID, p.Text, p.ImageKey,
	)

	m, err := scanMessage(row)
	if err != nil {
		return MessageRow{}, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

// ListConversation returns every message between a and b, oldest first.
func (q *Queries) ListConversation(ctx context.Context, a, b string) ([]MessageRow, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM messages
		  WHERE (sender_id = $1::uuid AND receiver_id = $2::uuid)
		     OR (sender_id = $2::uuid AND receiver_id = $1::uuid)
		  ORDER BY created_at, id`, a, b)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MessageRow, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return msgs, nil
}
