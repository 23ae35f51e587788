package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// APIKey grants a named client access to the validation API.
type APIKey struct {
	TokenHash string
	Client    string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// Validate checks the fields a stored key must carry. Client names follow
// the same slug rules as profile names.
func (k APIKey) Validate() error {
	if k.TokenHash == "" {
		return fmt.Errorf("%w: missing token hash", ErrInvalidAPIKey)
	}
	if !profileNamePattern.MatchString(k.Client) {
		return fmt.Errorf("%w: client %q must be a lowercase slug", ErrInvalidAPIKey, k.Client)
	}
	if len(k.Name) > 128 {
		return fmt.Errorf("%w: name longer than 128 characters", ErrInvalidAPIKey)
	}
	return nil
}
