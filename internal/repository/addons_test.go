package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/hugh/go-clinic/internal/apperr"
	"github.com/hugh/go-clinic/internal/database/models"
	"github.com/hugh/go-clinic/internal/repository"
	"github.com/hugh/go-clinic/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return db, mock
}

func TestAddOnRepository_IncrementUsageIsSingleStatement(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := repository.NewAddOnRepository(db)

	orgID := uuid.New()
	addOnID := uuid.New()

	mock.ExpectQuery(`SELECT "id" FROM "add_ons" WHERE name = \$1`).
		WithArgs(models.AddOnAIScribe, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(addOnID))
	mock.ExpectExec(`UPDATE "organization_add_ons" SET "usage_count"=usage_count \+ \$1 WHERE .*organization_id = \$2 AND add_on_id = \$3 AND is_active = \$4`).
		WithArgs(1, orgID, addOnID, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementUsage(context.Background(), orgID, models.AddOnAIScribe))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOnRepository_IncrementUsageInactive(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := repository.NewAddOnRepository(db)

	addOnID := uuid.New()
	mock.ExpectQuery(`SELECT "id" FROM "add_ons"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(addOnID))
	mock.ExpectExec(`UPDATE "organization_add_ons"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.IncrementUsage(context.Background(), uuid.New(), models.AddOnAIScribe)
	assert.ErrorIs(t, err, apperr.ErrAddOnRequired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddOnRepository_FeatureGate(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAddOnRepository(tc.DB)

	err := repo.EnsureActive(ctx, tc.Org.ID, models.AddOnAIScribe)
	assert.ErrorIs(t, err, apperr.ErrAddOnRequired)
	assert.ErrorIs(t, repo.IncrementUsage(ctx, tc.Org.ID, models.AddOnAIScribe), apperr.ErrAddOnRequired)

	testutil.ActivateTestAddOn(t, tc.DB, tc.Org.ID, models.AddOnAIScribe)
	assert.NoError(t, repo.EnsureActive(ctx, tc.Org.ID, models.AddOnAIScribe))
	assert.ErrorIs(t, repo.EnsureActive(ctx, tc.Org.ID, models.AddOnAdvancedAnalytics), apperr.ErrAddOnRequired)

	// Another organization's add-on does not unlock this one.
	otherOrg := testutil.CreateTestOrg(t, tc.DB)
	testutil.ActivateTestAddOn(t, tc.DB, otherOrg.ID, models.AddOnAdvancedAnalytics)
	assert.ErrorIs(t, repo.EnsureActive(ctx, tc.Org.ID, models.AddOnAdvancedAnalytics), apperr.ErrAddOnRequired)
}

func TestAddOnRepository_IncrementUsageCounts(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAddOnRepository(tc.DB)
	row := testutil.ActivateTestAddOn(t, tc.DB, tc.Org.ID, models.AddOnAIScribe)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.IncrementUsage(ctx, tc.Org.ID, models.AddOnAIScribe))
		}()
	}
	wg.Wait()

	var reloaded models.OrganizationAddOn
	require.NoError(t, tc.DB.First(&reloaded, "id = ?", row.ID).Error)
	assert.Equal(t, int64(5), reloaded.UsageCount)
}

func TestAddOnRepository_SubscriptionLifecycle(t *testing.T) {
	tc := testutil.NewTestContext(t)
	defer tc.Cleanup()
	ctx := context.Background()

	repo := repository.NewAddOnRepository(tc.DB)
	caller := tc.Caller(t)

	catalog, err := repo.Catalog(ctx)
	require.NoError(t, err)
	require.Len(t, catalog, 2)

	var scribe models.AddOn
	for _, a := range catalog {
		if a.Name == models.AddOnAIScribe {
			scribe = a
		}
	}
	require.NotEqual(t, uuid.Nil, scribe.ID)

	require.NoError(t, repo.EnsureSubscribable(ctx, caller, scribe.ID))
	require.NoError(t, repo.CreateSubscription(ctx, &models.Subscription{
		OrganizationID:         tc.Org.ID,
		AddOnID:                scribe.ID,
		ProviderSubscriptionID: "sub_123",
		Status:                 models.SubscriptionPending,
	}))
	assert.ErrorIs(t, repo.EnsureSubscribable(ctx, caller, scribe.ID), apperr.ErrSubscriptionExists)

	sub, err := repo.ApplySubscriptionEvent(ctx, "sub_123", true)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.NoError(t, repo.EnsureActive(ctx, tc.Org.ID, models.AddOnAIScribe))

	active, err := repo.ListForOrganization(ctx, caller)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].AddOn)
	assert.Equal(t, models.AddOnAIScribe, active[0].AddOn.Name)
	assert.True(t, active[0].IsActive)

	open, err := repo.OpenSubscription(ctx, caller, scribe.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_123", open.ProviderSubscriptionID)

	sub, err = repo.ApplySubscriptionEvent(ctx, "sub_123", false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
	assert.ErrorIs(t, repo.EnsureActive(ctx, tc.Org.ID, models.AddOnAIScribe), apperr.ErrAddOnRequired)

	_, err = repo.OpenSubscription(ctx, caller, scribe.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = repo.ApplySubscriptionEvent(ctx, "sub_unknown", true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
