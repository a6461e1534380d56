package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"marketfront/internal/types"
)

// AccountRepo manages tenant and user activation state and the stored
// referral attribution on user records.
type AccountRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccountRepo creates an AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX, logger *slog.Logger) *AccountRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{db: db, logger: logger}
}

// ActivateAccount marks the tenant and the user active. Idempotent: rows
// already active are untouched, and a missing row is not an error here --
// checkout-completed activation may arrive before provisioning finishes, and
// the later subscription-created event converges the state.
func (r *AccountRepo) ActivateAccount(ctx context.Context, tenantID, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE tenants
		 SET status = $1, activated_at = COALESCE(activated_at, NOW())
		 WHERE id = $2 AND status <> $1`,
		types.AccountStatusActive,
		tenantID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate tenant", err)
	}

	_, err = r.db.Exec(ctx,
		`UPDATE users
		 SET status = $1, email_enabled = TRUE
		 WHERE id = $2 AND status <> $1`,
		types.AccountStatusActive,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to activate user", err)
	}
	return nil
}

// SetUserEmailEnabled toggles the user's email access flag. The suspension
// policy disables it while a subscription is past_due and re-enables it on
// reactivation.
func (r *AccountRepo) SetUserEmailEnabled(ctx context.Context, userID string, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET email_enabled = $1 WHERE id = $2`,
		enabled,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user email access", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// SuspendTenant marks the tenant suspended (administrative action).
func (r *AccountRepo) SuspendTenant(ctx context.Context, tenantID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tenants SET status = $1, suspended_at = NOW() WHERE id = $2`,
		types.AccountStatusSuspended,
		tenantID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to suspend tenant", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTenant, "tenant not found", nil)
	}
	return nil
}

// GetUserReferralInfo returns the referral attribution stored on the user
// record at signup. Both fields empty means the user was not referred.
func (r *AccountRepo) GetUserReferralInfo(ctx context.Context, userID string) (*types.UserReferralInfo, error) {
	row := r.db.QueryRow(ctx,
		`SELECT COALESCE(referred_by, ''), COALESCE(referral_code_used, ''), COALESCE(user_type, '')
		 FROM users
		 WHERE id = $1`,
		userID,
	)

	var info types.UserReferralInfo
	if err := row.Scan(&info.ReferredBy, &info.ReferralCodeUsed, &info.UserType); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user referral info", err)
	}
	return &info, nil
}
