package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/punchamoorthee/payflow/internal/models"
	"github.com/punchamoorthee/payflow/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSamePassword       = errors.New("old password and new password must be different")
)

// Seed balance bounds in cents: every new account starts with a randomized
// demo balance between $1,000.00 and $10,000.00.
const (
	seedBalanceMin = 1_000_00
	seedBalanceMax = 10_000_00
)

type UserService struct {
	store *store.Store
}

func NewUserService(s *store.Store) *UserService {
	return &UserService{store: s}
}

// Signup registers a new principal with a bcrypt-hashed password and a
// randomized seed balance. Duplicate email/username surface as the store's
// conflict errors.
func (s *UserService) Signup(ctx context.Context, email, userName, fullName, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("password hashing failed: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		UserName:     userName,
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		Balance:      seedBalanceMin + rand.Int64N(seedBalanceMax-seedBalanceMin+1),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ChangePassword verifies the old password before storing the new hash. The
// caller is expected to reissue the session afterwards.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (*models.User, error) {
	if oldPassword == newPassword {
		return nil, ErrSamePassword
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return nil, ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("password hashing failed: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) Profile(ctx context.Context, userID string) (*models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

func (s *UserService) Balance(ctx context.Context, userID string) (int64, error) {
	return s.store.GetBalance(ctx, userID)
}

// UpdateFullName changes the display name. Returns the updated name, or the
// current one unchanged when there is nothing to do. Balance is never touched
// from this path.
func (s *UserService) UpdateFullName(ctx context.Context, userID, fullName string) (changed bool, err error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.FullName == fullName {
		return false, nil
	}
	if err := s.store.UpdateFullName(ctx, userID, fullName); err != nil {
		return false, err
	}
	return true, nil
}

func (s *UserService) SearchUsers(ctx context.Context, callerID, filter string, page, limit int) ([]models.PublicUser, models.Pagination, error) {
	users, total, err := s.store.SearchUsers(ctx, callerID, filter, limit, (page-1)*limit)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	pages := (total + limit - 1) / limit
	return users, models.Pagination{Page: page, Limit: limit, Total: total, Pages: pages}, nil
}
