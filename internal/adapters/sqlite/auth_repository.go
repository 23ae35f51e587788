package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/edocval/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/edocval/internal/core/domain"
)

// APIKeyRepository stores hashed API tokens in the api_keys table.
type APIKeyRepository struct {
	db  *gormsqlite.DB
	now func() time.Time
}

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *APIKeyRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	var row apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Take(&row, "token_hash = ?", tokenHash).Error
	})
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.APIKey{}, domain.ErrNotFound
	case err != nil:
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return row.toAPIKey(), nil
}

// Upsert inserts key or, for a known token hash, overwrites its client,
// name and active flag. created_at is never rewritten.
func (r *APIKeyRepository) Upsert(ctx context.Context, key domain.APIKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	row := apiKeyModelFrom(key)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.now()
	}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"client", "name", "active"}),
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(onConflict).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("upsert api key for %s: %w", key.Client, err)
	}
	return nil
}

func (r *APIKeyRepository) Revoke(ctx context.Context, tokenHash string) error {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Model(&apiKeyModel{}).Where("token_hash = ?", tokenHash).Update("active", false)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func apiKeyModelFrom(k domain.APIKey) apiKeyModel {
	return apiKeyModel{
		TokenHash: k.TokenHash,
		Client:    k.Client,
		Name:      k.Name,
		Active:    k.Active,
		CreatedAt: k.CreatedAt.UTC(),
	}
}

func (m apiKeyModel) toAPIKey() domain.APIKey {
	return domain.APIKey{
		TokenHash: m.TokenHash,
		Client:    m.Client,
		Name:      m.Name,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}
