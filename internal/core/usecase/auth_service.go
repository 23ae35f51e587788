package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
	"github.com/atvirokodosprendimai/edocval/internal/core/ports"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthService maps API tokens to clients. Only SHA-256 digests of tokens
// reach the repository.
type AuthService struct {
	keys ports.APIKeyRepository
}

func NewAuthService(keys ports.APIKeyRepository) *AuthService {
	return &AuthService{keys: keys}
}

func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.APIKey, error) {
	hash, err := tokenDigest(token)
	if err != nil {
		return domain.APIKey{}, ErrUnauthorized
	}
	key, err := s.keys.FindByTokenHash(ctx, hash)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.APIKey{}, ErrUnauthorized
	case err != nil:
		return domain.APIKey{}, fmt.Errorf("look up api key: %w", err)
	case !key.Active:
		return domain.APIKey{}, ErrUnauthorized
	}
	return key, nil
}

// Register stores an active key for client, reactivating it if the token
// was revoked before. name defaults to the client.
func (s *AuthService) Register(ctx context.Context, token, client, name string) (domain.APIKey, error) {
	hash, err := tokenDigest(token)
	if err != nil {
		return domain.APIKey{}, err
	}
	if name == "" {
		name = client
	}
	key := domain.APIKey{TokenHash: hash, Client: client, Name: name, Active: true}
	if err := key.Validate(); err != nil {
		return domain.APIKey{}, err
	}
	if err := s.keys.Upsert(ctx, key); err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}

// Revoke deactivates the key for token. Unknown tokens yield domain.ErrNotFound.
func (s *AuthService) Revoke(ctx context.Context, token string) error {
	hash, err := tokenDigest(token)
	if err != nil {
		return err
	}
	return s.keys.Revoke(ctx, hash)
}

// tokenDigest trims surrounding blanks and rejects empty tokens or tokens
// with inner whitespace.
func tokenDigest(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrInvalidAPIKey)
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: token contains whitespace", domain.ErrInvalidAPIKey)
	}
	return HashToken(token), nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
