// Copyright 2025 The credithub Authors
// This file is part of the credithub library.
//
// The credithub library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The credithub library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the credithub library. If not, see <http://www.gnu.org/licenses/>.

package services

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/commongrid/credithub/identity"
	"github.com/commongrid/credithub/ledger"
	"github.com/commongrid/credithub/types"
)

// TokenStore is the revocation capability the auth service depends on. The
// in-process implementation below suffices for a single hub; a shared cache
// can be plugged in without touching the service.
type TokenStore interface {
	Revoke(jti string, until time.Time)
	Revoked(jti string) bool
}

// MemoryTokenStore is the default TokenStore.
type MemoryTokenStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryTokenStore creates an empty revocation store.
func NewMemoryTokenStore(clock func() time.Time) *MemoryTokenStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryTokenStore{revoked: make(map[string]time.Time), now: clock}
}

func (m *MemoryTokenStore) Revoke(jti string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = until
	// Opportunistic cleanup of entries past their natural expiry.
	now := m.now()
	for k, v := range m.revoked {
		if v.Before(now) {
			delete(m.revoked, k)
		}
	}
}

func (m *MemoryTokenStore) Revoked(jti string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[jti]
	return ok && until.After(m.now())
}

// AuthConfig carries token and challenge lifetimes.
type AuthConfig struct {
	Secret       []byte
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	ChallengeTTL time.Duration
}

// DefaultAuthConfig returns the documented defaults (secret must be set by
// the caller).
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   720 * time.Hour,
		ChallengeTTL: 120 * time.Second,
	}
}

// Challenge is a single-use server nonce a participant signs to log in.
type Challenge struct {
	ID        uuid.UUID `json:"id"`
	PID       types.PID `json:"pid"`
	Nonce     []byte    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenPair is an issued access + refresh token pair.
type TokenPair struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
}

type hubClaims struct {
	jwt.RegisteredClaims
	TokenType string `json:"typ"`
}

// AuthService issues sessions from signed challenges and rotates refresh
// tokens, revoking each refresh token on use.
type AuthService struct {
	store  ledger.Store
	tokens TokenStore
	now    func() time.Time
	cfg    AuthConfig

	mu         sync.Mutex
	challenges map[uuid.UUID]*Challenge
}

// NewAuthService creates the service.
func NewAuthService(store ledger.Store, tokens TokenStore, clock func() time.Time, cfg AuthConfig) *AuthService {
	if clock == nil {
		clock = time.Now
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore(clock)
	}
	return &AuthService{
		store:      store,
		tokens:     tokens,
		now:        clock,
		cfg:        cfg,
		challenges: make(map[uuid.UUID]*Challenge),
	}
}

// NewChallenge issues a login nonce for pid, valid once within the TTL.
func (s *AuthService) NewChallenge(ctx context.Context, pid types.PID) (*Challenge, error) {
	err := s.store.View(ctx, func(tx ledger.Tx) error {
		p, err := tx.Participant(ctx, pid)
		if err != nil {
			return err
		}
		if !p.Active() {
			return types.NewError(types.CodeForbidden, "participant is not active")
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, types.NewError(types.CodeForbidden, "unknown participant")
		}
		return nil, err
	}
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ch := &Challenge{
		ID:        uuid.New(),
		PID:       pid,
		Nonce:     nonce,
		ExpiresAt: s.now().Add(s.cfg.ChallengeTTL),
	}
	s.mu.Lock()
	s.challenges[ch.ID] = ch
	// Drop lapsed challenges while we hold the lock.
	now := s.now()
	for id, c := range s.challenges {
		if c.ExpiresAt.Before(now) {
			delete(s.challenges, id)
		}
	}
	s.mu.Unlock()
	return ch, nil
}

// Authenticate consumes a challenge: the signature must be the participant's
// Ed25519 signature over the nonce. On success a token pair is issued.
func (s *AuthService) Authenticate(ctx context.Context, challengeID uuid.UUID, sig []byte) (*TokenPair, error) {
	s.mu.Lock()
	ch, ok := s.challenges[challengeID]
	if ok {
		delete(s.challenges, challengeID) // single use
	}
	s.mu.Unlock()
	if !ok || ch.ExpiresAt.Before(s.now()) {
		return nil, types.NewError(types.CodeForbidden, "unknown or expired challenge")
	}

	var pub []byte
	if err := s.store.View(ctx, func(tx ledger.Tx) error {
		p, err := tx.Participant(ctx, ch.PID)
		if err != nil {
			return err
		}
		pub = p.PublicKey
		return nil
	}); err != nil {
		return nil, err
	}
	if err := identity.Verify(pub, ch.Nonce, sig); err != nil {
		return nil, types.NewError(types.CodeInvalidSignature, "challenge signature invalid")
	}
	return s.issue(ch.PID)
}

// Refresh rotates a refresh token: the old token is revoked and a fresh
// pair issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parse(refreshToken, "refresh")
	if err != nil {
		return nil, err
	}
	s.tokens.Revoke(claims.ID, claims.ExpiresAt.Time)
	return s.issue(types.PID(claims.Subject))
}

// VerifyAccess validates an access token and returns the authenticated PID.
func (s *AuthService) VerifyAccess(token string) (types.PID, error) {
	claims, err := s.parse(token, "access")
	if err != nil {
		return "", err
	}
	return types.PID(claims.Subject), nil
}

func (s *AuthService) issue(pid types.PID) (*TokenPair, error) {
	access, err := s.sign(pid, "access", s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(pid, "refresh", s.cfg.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *AuthService) sign(pid types.PID, typ string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := hubClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(pid),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
}

func (s *AuthService) parse(token, wantType string) (*hubClaims, error) {
	claims := &hubClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.cfg.Secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, types.NewError(types.CodeForbidden, "invalid token")
	}
	if claims.TokenType != wantType {
		return nil, types.NewError(types.CodeForbidden, "wrong token type")
	}
	if s.tokens.Revoked(claims.ID) {
		return nil, types.NewError(types.CodeForbidden, "token revoked")
	}
	return claims, nil
}
