package metadata

import (
	"context"
	"testing"

	"github.com/cargoforge/registry/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.User{}, &types.Token{}, &types.Crate{}, &types.Version{}, &types.Ownership{}))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB) *types.User {
	t.Helper()
	user := &types.User{Principal: uuid.NewString(), Active: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCreateTokenAndAuthenticate(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	user := createTestUser(t, db)
	token, secret, err := store.CreateToken(ctx, user.ID, "ci", types.TokenCapPublish)
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	authedUser, authedToken, err := store.Authenticate(ctx, token.ID, secret)
	require.NoError(t, err)
	require.Equal(t, user.ID, authedUser.ID)
	require.True(t, authedToken.HasCapability(types.TokenCapPublish))

	_, _, err = store.Authenticate(ctx, token.ID, "wrong-secret")
	require.Error(t, err)
}

func TestAuthenticateRejectsRevokedToken(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	user := createTestUser(t, db)
	token, secret, err := store.CreateToken(ctx, user.ID, "ci", types.TokenCapPublish)
	require.NoError(t, err)

	require.NoError(t, store.RevokeToken(ctx, user.ID, token.ID))

	_, _, err = store.Authenticate(ctx, token.ID, secret)
	require.Error(t, err)
}

func TestInsertVersionRejectsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	crate, _, err := GetOrCreateCrate(db.WithContext(ctx), "foo")
	require.NoError(t, err)

	_, err = InsertVersion(db.WithContext(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	_, err = InsertVersion(db.WithContext(ctx), crate.ID, "0.1.0", "abc")
	require.Error(t, err)
}

func TestInsertVersionRejectsPartialSemver(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	crate, _, err := GetOrCreateCrate(db.WithContext(ctx), "foo")
	require.NoError(t, err)

	_, err = InsertVersion(db.WithContext(ctx), crate.ID, "1", "abc")
	require.Error(t, err)

	_, err = InsertVersion(db.WithContext(ctx), crate.ID, "0.0.0", "abc")
	require.NoError(t, err)
}

func TestRemoveOwnersEnforcesFloorOfOne(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	user := createTestUser(t, db)
	crate, _, err := GetOrCreateCrate(db.WithContext(ctx), "foo")
	require.NoError(t, err)
	require.NoError(t, EstablishInitialOwnership(db.WithContext(ctx), crate.ID, user.ID))

	err = store.RemoveOwners(ctx, "foo", []uuid.UUID{user.ID})
	require.Error(t, err)

	other := createTestUser(t, db)
	require.NoError(t, store.AddOwners(ctx, "foo", user.ID, []uuid.UUID{other.ID}))
	require.NoError(t, store.RemoveOwners(ctx, "foo", []uuid.UUID{user.ID}))
}

func TestSetYankedIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	crate, _, err := GetOrCreateCrate(db.WithContext(ctx), "foo")
	require.NoError(t, err)
	_, err = InsertVersion(db.WithContext(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	require.NoError(t, store.SetYanked(ctx, "foo", "0.1.0", true))
	require.NoError(t, store.SetYanked(ctx, "foo", "0.1.0", true))

	versions, err := store.GetCrateVersions(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.True(t, versions[0].Yanked)
}

func TestIncrementDLIsMonotone(t *testing.T) {
	db := setupTestDB(t)
	store := New(db)
	ctx := context.Background()

	crate, _, err := GetOrCreateCrate(db.WithContext(ctx), "foo")
	require.NoError(t, err)
	_, err = InsertVersion(db.WithContext(ctx), crate.ID, "0.1.0", "abc")
	require.NoError(t, err)

	require.NoError(t, store.IncrementDL(ctx, "foo", "0.1.0"))
	require.NoError(t, store.IncrementDL(ctx, "foo", "0.1.0"))

	total, byVersion, err := store.GetCrateDLStats(ctx, "foo")
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Equal(t, int64(2), byVersion["0.1.0"])
}
