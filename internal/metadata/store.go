// Package metadata implements the registry's relational metadata store
// (spec §4.1): users, tokens, crates, versions and ownership, plus the
// transactional plumbing the facade drives its publish/yank sequences
// through.
package metadata

import (
	"context"
	"fmt"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/auth"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ReservedTokenPrincipal names the registry's own internal, read-only
// identity (spec §9 Design Notes; recovered from original_source's
// reserved self-service token). Nothing references it: Authenticate has no
// case for it, and the background workers read the index and metadata
// store directly without authenticating.
const ReservedTokenPrincipal = "registry-internal"

// Store wraps the GORM handle backing the metadata store.
type Store struct {
	db *gorm.DB
}

// New wraps an already-migrated *gorm.DB as a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTransaction runs fn inside a database transaction scoped to ctx,
// mirroring original_source's `with_transaction` helper. The facade uses it
// only for the publish sequence (spec §4.7); its other operations call the
// store's methods directly, each in its own statement or transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// DB returns the underlying handle for read-only queries that don't need
// an explicit transaction.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Authenticate resolves a "<token-id>:<secret>" credential to its owning
// user and token row. Every token, reserved or not, goes through the same
// lookup; there is no special case for an internal identity.
func (s *Store) Authenticate(ctx context.Context, tokenID uuid.UUID, secret string) (*types.User, *types.Token, error) {
	var token types.Token
	if err := s.db.WithContext(ctx).Where("id = ?", tokenID).First(&token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, apierror.New(apierror.Unauthorized, "unknown token")
		}
		return nil, nil, apierror.Wrap(apierror.Internal, "failed to load token", err)
	}

	if token.RevokedAt != nil {
		return nil, nil, apierror.New(apierror.Unauthorized, "token has been revoked")
	}

	if auth.Fingerprint(secret) != token.Fingerprint {
		return nil, nil, apierror.New(apierror.Unauthorized, "invalid token secret")
	}

	var user types.User
	if err := s.db.WithContext(ctx).Where("id = ?", token.OwnerID).First(&user).Error; err != nil {
		return nil, nil, apierror.Wrap(apierror.Internal, "failed to load token owner", err)
	}
	if !user.Active {
		return nil, nil, apierror.New(apierror.Forbidden, "user account is deactivated")
	}

	return &user, &token, nil
}

// CheckToken verifies a token still grants the required capability,
// without re-deriving it from a cleartext secret. No request path calls
// it.
func (s *Store) CheckToken(ctx context.Context, tokenID uuid.UUID, capability int) (*types.Token, error) {
	var token types.Token
	if err := s.db.WithContext(ctx).Where("id = ?", tokenID).First(&token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apierror.New(apierror.Unauthorized, "unknown token")
		}
		return nil, apierror.Wrap(apierror.Internal, "failed to load token", err)
	}
	if token.RevokedAt != nil {
		return nil, apierror.New(apierror.Unauthorized, "token has been revoked")
	}
	if !token.HasCapability(capability) {
		return nil, apierror.New(apierror.Forbidden, "token lacks required capability")
	}
	return &token, nil
}

// CreateToken mints a new token for a user, returning the cleartext secret
// exactly once; only its fingerprint is persisted (spec §3 Token).
func (s *Store) CreateToken(ctx context.Context, ownerID uuid.UUID, name string, capabilities int) (*types.Token, string, error) {
	secret, err := auth.GenerateTokenSecret()
	if err != nil {
		return nil, "", apierror.Wrap(apierror.Internal, "failed to generate token secret", err)
	}

	token := &types.Token{
		OwnerID:      ownerID,
		Name:         name,
		Fingerprint:  auth.Fingerprint(secret),
		Capabilities: capabilities,
	}

	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, "", apierror.Wrap(apierror.Internal, "failed to create token", err)
	}

	log.Info().Str("owner_id", ownerID.String()).Str("token_id", token.ID.String()).Msg("token created")
	return token, secret, nil
}

// GetTokens lists a user's tokens. Secrets are never stored; the rows carry
// their Fingerprint field, which is left out only when they are JSON-encoded.
func (s *Store) GetTokens(ctx context.Context, ownerID uuid.UUID) ([]types.Token, error) {
	var tokens []types.Token
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&tokens).Error; err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list tokens", err)
	}
	return tokens, nil
}

// RevokeToken marks a token revoked. Idempotent.
func (s *Store) RevokeToken(ctx context.Context, ownerID, tokenID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&types.Token{}).
		Where("id = ? AND owner_id = ?", tokenID, ownerID).
		Update("revoked_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to revoke token", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "token not found")
	}
	return nil
}

func wrapNotFound(err error, what string) error {
	if err == gorm.ErrRecordNotFound {
		return apierror.New(apierror.NotFound, fmt.Sprintf("%s not found", what))
	}
	return apierror.Wrap(apierror.Internal, fmt.Sprintf("failed to query %s", what), err)
}
