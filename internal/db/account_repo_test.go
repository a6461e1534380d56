package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketfront/internal/types"
)

func TestAccountRepo_ActivateAccount_MissingRowsAreNotErrors(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	// Checkout-completed activation can arrive before provisioning finishes;
	// zero-row updates must not fail the event.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Twice()

	err := repo.ActivateAccount(context.Background(), "tenant_1", "user_1")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAccountRepo_SetUserEmailEnabled_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.SetUserEmailEnabled(context.Background(), "user_missing", false)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestAccountRepo_SuspendTenant_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	require.NoError(t, repo.SuspendTenant(context.Background(), "tenant_1"))
}

func TestAccountRepo_GetUserReferralInfo_NotReferred(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = ""
			*dest[1].(*string) = ""
			*dest[2].(*string) = "seller"
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	info, err := repo.GetUserReferralInfo(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Empty(t, info.ReferredBy)
	assert.Equal(t, "seller", info.UserType)
}

func TestAccountRepo_GetUserReferralInfo_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAccountRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetUserReferralInfo(context.Background(), "user_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestTaskRepo_Create_DefaultsPendingStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[5] == types.TaskStatusPending
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	task := &types.ScheduledTask{
		TaskType:       types.TaskTypeReferralConfirmation,
		RelatedID:      "referral_1",
		SubscriptionID: "sub_1",
		ScheduledFor:   time.Now().UTC().Add(14 * 24 * time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), task))
	assert.NotEmpty(t, task.ID)
	db.AssertExpectations(t)
}

func TestTaskRepo_CancelPendingBySubscription(t *testing.T) {
	db := new(mockDBTX)
	repo := NewTaskRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 2"), nil)

	count, err := repo.CancelPendingBySubscription(context.Background(), "sub_1", types.TaskTypeReferralConfirmation)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
