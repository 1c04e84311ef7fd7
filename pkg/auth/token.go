package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cordonproject/cordon/pkg/storage"
	"github.com/cordonproject/cordon/pkg/types"
)

// TokenManager mints and validates host join tokens. Tokens live in the
// shared store so any control-plane peer can validate an enrollment.
type TokenManager struct {
	store storage.Store
}

// NewTokenManager creates a token manager over the given store
func NewTokenManager(store storage.Store) *TokenManager {
	return &TokenManager{store: store}
}

// GenerateToken mints a single-use join token valid for the given duration
func (tm *TokenManager) GenerateToken(duration time.Duration) (*types.JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate random token: %w", err)
	}

	jt := &types.JoinToken{
		Token:     hex.EncodeToString(raw),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}
	if err := tm.store.PutJoinToken(jt); err != nil {
		return nil, fmt.Errorf("failed to persist join token: %w", err)
	}
	return jt, nil
}

// ConsumeToken validates and burns a join token
func (tm *TokenManager) ConsumeToken(token string) error {
	if _, err := tm.store.TakeJoinToken(token, time.Now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("invalid join token: %w", ErrUnauthorized)
		}
		return err
	}
	return nil
}
