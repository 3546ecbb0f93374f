package metadata

import (
	"context"

	"github.com/cargoforge/registry/internal/apierror"
	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// AddOwners grants ownership of a crate to the given users (spec §4.1
// add_owners). Re-granting an existing owner is a no-op, not an error.
func (s *Store) AddOwners(ctx context.Context, crateName string, grantedBy uuid.UUID, userIDs []uuid.UUID) error {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return wrapNotFound(err, "crate")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, uid := range userIDs {
			var existing types.Ownership
			err := tx.Where("crate_id = ? AND user_id = ?", crate.ID, uid).First(&existing).Error
			if err == nil {
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}

			ownership := &types.Ownership{CrateID: crate.ID, UserID: uid, GrantedBy: grantedBy}
			if err := tx.Create(ownership).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveOwners revokes ownership for the given users, refusing to drop the
// crate below one remaining owner (spec §3 invariant, §8 property).
func (s *Store) RemoveOwners(ctx context.Context, crateName string, userIDs []uuid.UUID) error {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return wrapNotFound(err, "crate")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&types.Ownership{}).Where("crate_id = ?", crate.ID).Count(&total).Error; err != nil {
			return err
		}

		if total-int64(len(userIDs)) < 1 {
			return apierror.New(apierror.Conflict, "cannot remove the last owner of a crate")
		}

		for _, uid := range userIDs {
			if err := tx.Where("crate_id = ? AND user_id = ?", crate.ID, uid).Delete(&types.Ownership{}).Error; err != nil {
				return err
			}
		}

		log.Info().Str("crate", crateName).Int("removed", len(userIDs)).Msg("crate owners removed")
		return nil
	})
}

// GetOwners lists a crate's current owners.
func (s *Store) GetOwners(ctx context.Context, crateName string) ([]types.Ownership, error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		return nil, wrapNotFound(err, "crate")
	}

	var owners []types.Ownership
	if err := s.db.WithContext(ctx).Where("crate_id = ?", crate.ID).Find(&owners).Error; err != nil {
		return nil, apierror.Wrap(apierror.Internal, "failed to list owners", err)
	}
	return owners, nil
}

// IsOwner reports whether userID owns crateName.
func (s *Store) IsOwner(ctx context.Context, crateName string, userID uuid.UUID) (bool, error) {
	var crate types.Crate
	if err := s.db.WithContext(ctx).Where("name = ?", crateName).First(&crate).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, apierror.Wrap(apierror.Internal, "failed to look up crate", err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&types.Ownership{}).
		Where("crate_id = ? AND user_id = ?", crate.ID, userID).Count(&count).Error; err != nil {
		return false, apierror.Wrap(apierror.Internal, "failed to check ownership", err)
	}
	return count > 0, nil
}

// EstablishInitialOwnership grants sole ownership to the publishing user
// when a crate is created for the first time (spec §4.7 step 4).
func EstablishInitialOwnership(tx *gorm.DB, crateID, userID uuid.UUID) error {
	ownership := &types.Ownership{CrateID: crateID, UserID: userID, GrantedBy: userID}
	return tx.Create(ownership).Error
}
