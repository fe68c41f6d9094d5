// Package session issues, validates and rotates the signed credentials that
// prove "this request speaks for user U". Access tokens are verified on the
// hot path with no store lookup; refresh tokens are single-use, checked
// against a per-user whitelist holding exactly one valid token identifier.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrUnauthenticated covers every credential failure visible to a caller:
	// missing, expired, malformed, bad signature or revoked. The cause is
	// logged internally and never distinguished externally.
	ErrUnauthenticated = errors.New("session invalid")

	// ErrIntegrityAnomaly marks a token whose signature verified but whose
	// payload is impossible under our own signing code. It always trips the
	// lockdown and is never shown to a client as-is.
	ErrIntegrityAnomaly = errors.New("token integrity anomaly")
)

// userNamePattern mirrors signup validation. A validly signed token carrying a
// username that cannot exist is the tamper/bug signal.
var userNamePattern = regexp.MustCompile(`^[a-z][a-z_]+[a-z]$`)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID   string
	UserName string
}

// TokenPair is one freshly minted access + refresh credential set.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// CredentialStore maps a user id to the single currently-valid refresh jti.
type CredentialStore interface {
	Put(ctx context.Context, userID, jti string, ttl time.Duration) error
	Get(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

// Claims is the signed token payload. Refresh tokens additionally carry a jti
// in RegisteredClaims.ID; access tokens do not.
type Claims struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	jwt.RegisteredClaims
}

type Manager struct {
	creds    CredentialStore
	lockdown *Lockdown

	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration

	now func() time.Time
}

func NewManager(creds CredentialStore, lockdown *Lockdown, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		creds:         creds,
		lockdown:      lockdown,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// IssuePair mints a full-lifetime access and refresh token pair for login,
// signup and password change, whitelisting the new refresh jti and atomically
// displacing any prior one.
func (m *Manager) IssuePair(ctx context.Context, userID, userName string) (TokenPair, error) {
	return m.mintPair(ctx, userID, userName, m.refreshTTL)
}

func (m *Manager) mintPair(ctx context.Context, userID, userName string, refreshTTL time.Duration) (TokenPair, error) {
	now := m.now()

	access, err := m.sign(m.accessSecret, Claims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	jti := uuid.NewString()
	refresh, err := m.sign(m.refreshSecret, Claims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	if err != nil {
		return TokenPair{}, err
	}

	if err := m.creds.Put(ctx, userID, jti, refreshTTL); err != nil {
		return TokenPair{}, fmt.Errorf("whitelisting refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    m.accessTTL,
		RefreshTTL:   refreshTTL,
	}, nil
}

func (m *Manager) sign(secret []byte, claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates an access token and returns the caller's identity.
// This is the hot path: signature and expiry only, no store lookup.
func (m *Manager) VerifyAccess(token string) (Identity, error) {
	claims, err := m.parse(token, m.accessSecret)
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}
	if !m.claimsShapeValid(claims, false) {
		return Identity{}, m.escalate("access", claims)
	}
	return Identity{UserID: claims.UserID, UserName: claims.UserName}, nil
}

// Rotate validates a refresh token against the whitelist and, on success,
// mints a new pair. The new refresh token's lifetime is capped at the
// remaining lifetime of the one it replaces, so a session can never extend
// itself past its original issuance bound. The whitelist is overwritten with
// the new jti, which makes the old token unusable immediately even though its
// signature is still valid.
func (m *Manager) Rotate(ctx context.Context, refreshToken string) (Identity, TokenPair, error) {
	claims, err := m.parse(refreshToken, m.refreshSecret)
	if err != nil {
		return Identity{}, TokenPair{}, ErrUnauthenticated
	}
	if !m.claimsShapeValid(claims, true) {
		return Identity{}, TokenPair{}, m.escalate("refresh", claims)
	}

	// Store unavailability fails this request only. It is not an anomaly and
	// must not trip the lockdown.
	stored, err := m.creds.Get(ctx, claims.UserID)
	if err != nil {
		return Identity{}, TokenPair{}, fmt.Errorf("whitelist lookup: %w", err)
	}
	if stored == "" || stored != claims.ID {
		log.Printf("session: refresh jti mismatch for user %s (revoked or already rotated)", claims.UserID)
		return Identity{}, TokenPair{}, ErrUnauthenticated
	}

	remaining := claims.ExpiresAt.Time.Sub(m.now())
	if remaining <= 0 {
		return Identity{}, TokenPair{}, ErrUnauthenticated
	}

	pair, err := m.mintPair(ctx, claims.UserID, claims.UserName, remaining)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	return Identity{UserID: claims.UserID, UserName: claims.UserName}, pair, nil
}

// Revoke deletes the whitelist entry for userID. Every structurally valid
// refresh token for that user fails from this point on.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	return m.creds.Delete(ctx, userID)
}

// RevokeFromToken revokes using the caller's own refresh token, for logout.
// An undecodable token is not an error: the cookies get cleared regardless.
// A decodable token with an impossible payload still escalates.
func (m *Manager) RevokeFromToken(ctx context.Context, refreshToken string) error {
	claims, err := m.parse(refreshToken, m.refreshSecret)
	if err != nil {
		log.Printf("session: logout with invalid refresh token: %v", err)
		return nil
	}
	if !m.claimsShapeValid(claims, true) {
		return m.escalate("refresh", claims)
	}
	return m.creds.Delete(ctx, claims.UserID)
}

func (m *Manager) parse(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenUnverifiable
	}
	return claims, nil
}

// claimsShapeValid checks that a cryptographically valid payload is also a
// possible one: ids and usernames our signer could actually have produced.
func (m *Manager) claimsShapeValid(c *Claims, needJTI bool) bool {
	if _, err := uuid.Parse(c.UserID); err != nil {
		return false
	}
	if len(c.UserName) < 3 || len(c.UserName) > 20 || !userNamePattern.MatchString(c.UserName) {
		return false
	}
	if c.ExpiresAt == nil {
		return false
	}
	if needJTI && c.ID == "" {
		return false
	}
	return true
}

// escalate is the single integrity-escalation path. A valid signature over an
// impossible payload implies either key compromise or a serialization bug, so
// the whole service stops trusting tokens until an operator intervenes.
func (m *Manager) escalate(kind string, c *Claims) error {
	log.Printf("EMERGENCY: %s token has a valid signature but an impossible payload (userId=%q userName=%q); tripping lockdown", kind, c.UserID, c.UserName)
	m.lockdown.Trip()
	return ErrIntegrityAnomaly
}
