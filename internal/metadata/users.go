package metadata

import (
	"context"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetOrCreateUserByPrincipal resolves a user by its external OAuth
// principal, creating the row on first login. Account provisioning itself
// (the OAuth code exchange) is out of core scope (spec §1); this is the
// metadata-store side of that boundary.
func (s *Store) GetOrCreateUserByPrincipal(ctx context.Context, principal, email, displayName string) (*types.User, error) {
	var user types.User
	err := s.db.WithContext(ctx).Where("principal = ?", principal).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, apierror.Wrap(apierror.Internal, "failed to look up user", err)
	}

	user = types.User{Principal: principal, Email: email, DisplayName: displayName, Active: true}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to create user", err)
	}
	return &user, nil
}

// GetCurrentUser loads a user by id.
func (s *Store) GetCurrentUser(ctx context.Context, id uuid.UUID) (*types.User, error) {
	var user types.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, wrapNotFound(err, "user")
	}
	return &user, nil
}

// GetUsers lists every registered user (admin view).
func (s *Store) GetUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list users", err)
	}
	return users, nil
}

// UpdateUser persists display-name/email edits.
func (s *Store) UpdateUser(ctx context.Context, id uuid.UUID, displayName, email string) error {
	res := s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"display_name": displayName, "email": email})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to update user", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "user not found")
	}
	return nil
}

// DeactivateUser disables login for a user without deleting their history.
func (s *Store) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	return s.setActive(ctx, id, false)
}

// ReactivateUser re-enables a previously deactivated user.
func (s *Store) ReactivateUser(ctx context.Context, id uuid.UUID) error {
	return s.setActive(ctx, id, true)
}

func (s *Store) setActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to update user status", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "user not found")
	}
	return nil
}

// DeleteUser removes a user account, refusing to do so while the user
// still solely owns any crate (a supplemental user-lifecycle operation
// recovered from original_source/src/application.rs, which the spec's
// distillation dropped but which the Ownership invariant requires: a
// crate may never drop below one owner).
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	var soleOwnerships int64
	err := s.db.WithContext(ctx).Model(&types.Ownership{}).
		Where("user_id = ? AND crate_id IN (?)",
			id,
			s.db.Model(&types.Ownership{}).Select("crate_id").
				Group("crate_id").Having("COUNT(*) = 1")).
		Count(&soleOwnerships).Error
	if err != nil {
		return apierror.Wrap(apierror.Internal, "failed to check sole ownerships", err)
	}
	if soleOwnerships > 0 {
		return apierror.New(apierror.Conflict, "user is the sole owner of one or more crates")
	}

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&types.User{})
	if res.Error != nil {
		return apierror.Wrap(apierror.Internal, "failed to delete user", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierror.New(apierror.NotFound, "user not found")
	}
	return nil
}
