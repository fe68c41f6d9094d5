package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ---- fake credential store ----

type fakeCredEntry struct {
	jti       string
	expiresAt time.Time
}

type fakeCredStore struct {
	mu      sync.Mutex
	entries map[string]fakeCredEntry
	now     func() time.Time

	failNext error
}

func newFakeCredStore(now func() time.Time) *fakeCredStore {
	return &fakeCredStore{entries: map[string]fakeCredEntry{}, now: now}
}

func (f *fakeCredStore) Put(_ context.Context, userID, jti string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.entries[userID] = fakeCredEntry{jti: jti, expiresAt: f.now().Add(ttl)}
	return nil
}

func (f *fakeCredStore) Get(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return "", err
	}
	e, ok := f.entries[userID]
	if !ok || f.now().After(e.expiresAt) {
		return "", nil
	}
	return e.jti, nil
}

func (f *fakeCredStore) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, userID)
	return nil
}

// ---- helpers ----

const (
	testAccessSecret  = "access-secret-for-tests"
	testRefreshSecret = "refresh-secret-for-tests"
	testAccessTTL     = 15 * time.Minute
	testRefreshTTL    = 24 * time.Hour
)

type fixture struct {
	mgr      *Manager
	creds    *fakeCredStore
	lockdown *Lockdown
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time { return f.clock }
	f.creds = newFakeCredStore(now)
	f.lockdown = NewLockdown()
	f.mgr = NewManager(f.creds, f.lockdown, testAccessSecret, testRefreshSecret, testAccessTTL, testRefreshTTL)
	f.mgr.now = now
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func testUser() (string, string) {
	return uuid.NewString(), "alice_smith"
}

// signRaw mints a token directly, bypassing the manager, to simulate payloads
// the manager itself could never produce.
func signRaw(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

// ---- tests ----

func TestIssuePairAndVerifyAccess(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()

	pair, err := f.mgr.IssuePair(context.Background(), userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be minted")
	}
	if pair.RefreshTTL != testRefreshTTL {
		t.Errorf("fresh pair refresh TTL = %v, want %v", pair.RefreshTTL, testRefreshTTL)
	}

	identity, err := f.mgr.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if identity.UserID != userID || identity.UserName != userName {
		t.Errorf("identity = %+v, want %s/%s", identity, userID, userName)
	}
}

func TestVerifyAccessExpired(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()

	pair, err := f.mgr.IssuePair(context.Background(), userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	f.advance(testAccessTTL + time.Minute)
	if _, err := f.mgr.VerifyAccess(pair.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expired access token: got %v, want ErrUnauthenticated", err)
	}
}

func TestVerifyAccessWrongSecret(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()

	forged := signRaw(t, "some-other-secret", Claims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(f.clock.Add(time.Hour)),
		},
	})
	if _, err := f.mgr.VerifyAccess(forged); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("forged token: got %v, want ErrUnauthenticated", err)
	}
	if f.lockdown.Tripped() {
		t.Error("a bad signature must not trip the lockdown")
	}
}

func TestRotateSingleUse(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	pair, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	r1 := pair.RefreshToken

	identity, pair2, err := f.mgr.Rotate(ctx, r1)
	if err != nil {
		t.Fatalf("first rotation: %v", err)
	}
	if identity.UserID != userID {
		t.Errorf("rotated identity = %+v", identity)
	}
	if pair2.RefreshToken == r1 {
		t.Error("rotation must mint a new refresh token")
	}

	// R1 is still within its signed expiry window, but the whitelist now
	// holds R2's jti, so replaying R1 must fail.
	if _, _, err := f.mgr.Rotate(ctx, r1); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("replayed R1: got %v, want ErrUnauthenticated", err)
	}

	// R2 remains usable.
	if _, _, err := f.mgr.Rotate(ctx, pair2.RefreshToken); err != nil {
		t.Errorf("R2 rotation: %v", err)
	}
}

func TestRotateLifetimeCap(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	pair, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	elapsed := 10 * time.Hour
	f.advance(elapsed)

	_, pair2, err := f.mgr.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotation: %v", err)
	}

	want := testRefreshTTL - elapsed
	if pair2.RefreshTTL != want {
		t.Errorf("rotated refresh TTL = %v, want %v", pair2.RefreshTTL, want)
	}

	// Rotating repeatedly can never push the session past its original bound.
	f.advance(want - time.Minute)
	_, pair3, err := f.mgr.Rotate(ctx, pair2.RefreshToken)
	if err != nil {
		t.Fatalf("second rotation: %v", err)
	}
	if pair3.RefreshTTL > time.Minute {
		t.Errorf("near-expiry rotation TTL = %v, want <= 1m", pair3.RefreshTTL)
	}
}

func TestRotateExpiredRefresh(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	pair, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	f.advance(testRefreshTTL + time.Minute)
	if _, _, err := f.mgr.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expired refresh: got %v, want ErrUnauthenticated", err)
	}
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	pair, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if err := f.mgr.Revoke(ctx, userID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// Structurally valid token, whitelist entry gone.
	if _, _, err := f.mgr.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("rotation after revoke: got %v, want ErrUnauthenticated", err)
	}
}

func TestRevokeFromToken(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	pair, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if err := f.mgr.RevokeFromToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RevokeFromToken: %v", err)
	}
	if _, _, err := f.mgr.Rotate(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("rotation after logout: got %v, want ErrUnauthenticated", err)
	}

	// Logout with garbage is a no-op, not an error.
	if err := f.mgr.RevokeFromToken(ctx, "not.a.token"); err != nil {
		t.Errorf("logout with invalid token: %v", err)
	}
}

func TestIssueDisplacesOldRefresh(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	first, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := f.mgr.IssuePair(ctx, userID, userName); err != nil {
		t.Fatalf("second IssuePair: %v", err)
	}

	// The fresh login displaced the first pair's jti.
	if _, _, err := f.mgr.Rotate(ctx, first.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("old refresh after re-login: got %v, want ErrUnauthenticated", err)
	}
}

func TestIntegrityAnomalyTripsLockdown(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
	}{
		{
			name: "username with impossible characters",
			claims: Claims{
				UserID:   uuid.NewString(),
				UserName: "Robert'); DROP",
			},
		},
		{
			name: "non-uuid user id",
			claims: Claims{
				UserID:   "42",
				UserName: "alice_smith",
			},
		},
		{
			name: "missing username claim",
			claims: Claims{
				UserID: uuid.NewString(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.claims.ExpiresAt = jwt.NewNumericDate(f.clock.Add(time.Hour))

			// Correct secret, valid signature, impossible payload.
			token := signRaw(t, testAccessSecret, tt.claims)
			_, err := f.mgr.VerifyAccess(token)
			if !errors.Is(err, ErrIntegrityAnomaly) {
				t.Fatalf("got %v, want ErrIntegrityAnomaly", err)
			}
			if !f.lockdown.Tripped() {
				t.Error("lockdown must trip on an integrity anomaly")
			}
		})
	}
}

func TestRefreshWithoutJTIIsAnomaly(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()

	// Validly signed refresh token with no jti: our signer always sets one,
	// so this payload is impossible.
	token := signRaw(t, testRefreshSecret, Claims{
		UserID:   userID,
		UserName: userName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(f.clock.Add(time.Hour)),
		},
	})
	_, _, err := f.mgr.Rotate(context.Background(), token)
	if !errors.Is(err, ErrIntegrityAnomaly) {
		t.Fatalf("got %v, want ErrIntegrityAnomaly", err)
	}
	if !f.lockdown.Tripped() {
		t.Error("lockdown must trip")
	}
}

func TestStoreFailureDoesNotTripLockdown(t *testing.T) {
	f := newFixture(t)
	userID, userName := testUser()
	ctx := context.Background()

	pair, err := f.mgr.IssuePair(ctx, userID, userName)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	f.creds.failNext = fmt.Errorf("connection refused")
	_, _, err = f.mgr.Rotate(ctx, pair.RefreshToken)
	if err == nil {
		t.Fatal("expected an error when the store is down")
	}
	if errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrIntegrityAnomaly) {
		t.Errorf("store failure mapped to %v; it must stay a plain server error", err)
	}
	if f.lockdown.Tripped() {
		t.Error("store unavailability must not trip the lockdown")
	}

	// The same token works once the store is back: the failed attempt did
	// not consume it.
	if _, _, err := f.mgr.Rotate(ctx, pair.RefreshToken); err != nil {
		t.Errorf("rotation after store recovery: %v", err)
	}
}

func TestLockdown(t *testing.T) {
	l := NewLockdown()
	if l.Tripped() {
		t.Fatal("new lockdown must start clear")
	}
	l.Trip()
	if !l.Tripped() {
		t.Fatal("Trip must latch")
	}
	// No clear path exists; tripping again is harmless.
	l.Trip()
	if !l.Tripped() {
		t.Fatal("lockdown must stay latched")
	}
}
