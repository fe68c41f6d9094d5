package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/payflow/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUserNameTaken   = errors.New("username taken")
	ErrPaymentNotFound = errors.New("payment not found")
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// CreateUser inserts a new principal. Duplicate email/username violations are
// mapped to ErrEmailTaken/ErrUserNameTaken via the unique constraint name.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	err := s.Db.QueryRow(ctx,
		`INSERT INTO users (id, user_name, email, full_name, password_hash, balance)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		u.ID, u.UserName, u.Email, u.FullName, u.PasswordHash, u.Balance,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return ErrEmailTaken
			case "users_user_name_key":
				return ErrUserNameTaken
			}
		}
		return fmt.Errorf("user insert failed: %w", err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email = $1", email)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id = $1", id)
}

func (s *Store) GetUserByUserName(ctx context.Context, userName string) (*models.User, error) {
	return s.getUser(ctx, "user_name = $1", userName)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := s.Db.QueryRow(ctx,
		`SELECT id, user_name, email, full_name, password_hash, balance, created_at, updated_at
		 FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.UserName, &u.Email, &u.FullName, &u.PasswordHash, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user query failed: %w", err)
	}
	return &u, nil
}

// GetBalance reads the current balance in cents.
func (s *Store) GetBalance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := s.Db.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", id).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("balance query failed: %w", err)
	}
	return balance, nil
}

// UpdateFullName changes the mutable display name. The balance column is
// deliberately untouchable from this path.
func (s *Store) UpdateFullName(ctx context.Context, id, fullName string) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE users SET full_name = $1, updated_at = now() WHERE id = $2",
		fullName, id)
	if err != nil {
		return fmt.Errorf("full name update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2",
		passwordHash, id)
	if err != nil {
		return fmt.Errorf("password update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SearchUsers lists usernames matching filter (case-insensitive substring),
// excluding the caller. An empty filter lists everyone else.
func (s *Store) SearchUsers(ctx context.Context, excludeID, filter string, limit, offset int) ([]models.PublicUser, int, error) {
	var total int
	err := s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FROM users WHERE id <> $1 AND user_name ILIKE '%' || $2 || '%'",
		excludeID, filter).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("user count failed: %w", err)
	}

	rows, err := s.Db.Query(ctx,
		`SELECT user_name, full_name FROM users
		 WHERE id <> $1 AND user_name ILIKE '%' || $2 || '%'
		 ORDER BY user_name
		 LIMIT $3 OFFSET $4`,
		excludeID, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("user search failed: %w", err)
	}
	defer rows.Close()

	users := []models.PublicUser{}
	for rows.Next() {
		var u models.PublicUser
		if err := rows.Scan(&u.UserName, &u.FullName); err != nil {
			return nil, 0, fmt.Errorf("user scan failed: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// GetPayment retrieves one payment record visible to userID (sender or receiver).
func (s *Store) GetPayment(ctx context.Context, id, userID string) (*models.Payment, error) {
	var p models.Payment
	err := s.Db.QueryRow(ctx,
		`SELECT id, sender_id, receiver_id, sender_user_name, receiver_user_name,
		        sender_full_name_snapshot, receiver_full_name_snapshot,
		        amount, COALESCE(description, ''), status, created_at
		 FROM payments
		 WHERE id = $1 AND (sender_id = $2 OR receiver_id = $2)`,
		id, userID,
	).Scan(&p.ID, &p.SenderID, &p.ReceiverID, &p.SenderUserName, &p.ReceiverUserName,
		&p.SenderFullNameSnapshot, &p.ReceiverFullNameSnapshot,
		&p.Amount, &p.Description, &p.Status, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payment query failed: %w", err)
	}
	return &p, nil
}

// ListPayments pages through a user's payment history, sent, received or both,
// optionally filtered by status.
func (s *Store) ListPayments(ctx context.Context, q models.PaymentQuery) ([]models.Payment, int, error) {
	where := "(sender_id = $1 OR receiver_id = $1)"
	switch q.Type {
	case "sent":
		where = "sender_id = $1"
	case "received":
		where = "receiver_id = $1"
	}

	args := []any{q.UserID}
	if q.Status != "" {
		args = append(args, q.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	err := s.Db.QueryRow(ctx, "SELECT COUNT(*) FROM payments WHERE "+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("payment count failed: %w", err)
	}

	order := "DESC"
	if q.Sort == "asc" {
		order = "ASC"
	}

	args = append(args, q.Limit, (q.Page-1)*q.Limit)
	rows, err := s.Db.Query(ctx,
		fmt.Sprintf(`SELECT id, sender_id, receiver_id, sender_user_name, receiver_user_name,
		        sender_full_name_snapshot, receiver_full_name_snapshot,
		        amount, COALESCE(description, ''), status, created_at
		 FROM payments WHERE %s
		 ORDER BY created_at %s
		 LIMIT $%d OFFSET $%d`, where, order, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("payment listing failed: %w", err)
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.SenderID, &p.ReceiverID, &p.SenderUserName, &p.ReceiverUserName,
			&p.SenderFullNameSnapshot, &p.ReceiverFullNameSnapshot,
			&p.Amount, &p.Description, &p.Status, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("payment scan failed: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}
