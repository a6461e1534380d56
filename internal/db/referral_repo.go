package db

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"marketfront/internal/types"
)

// ReferralRepo manages the referral-attribution ledger. Referrals are never
// hard deleted; cancelled is terminal and retained for audit.
type ReferralRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewReferralRepo creates a ReferralRepo backed by the given database
// connection (pool or transaction).
func NewReferralRepo(db DBTX, logger *slog.Logger) *ReferralRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferralRepo{db: db, logger: logger}
}

// Create inserts a referral. At most one referral exists per referred user
// (unique index on referred_id); a duplicate insert is an idempotent no-op
// and returns created = false.
func (r *ReferralRepo) Create(ctx context.Context, ref *types.Referral) (bool, error) {
	if ref.ID == "" {
		ref.ID = uuid.New().String()
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO referrals (id, referrer_id, referred_id, referral_code,
		    user_type, membership_type, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (referred_id) DO NOTHING`,
		ref.ID,
		ref.ReferrerID,
		ref.ReferredID,
		ref.ReferralCode,
		ref.UserType,
		ref.MembershipType,
		ref.Status,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create referral", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelOpenByReferredUser cancels the user's pending and confirmed
// referrals. Rewarded referrals are never touched, and re-running against
// already-cancelled rows is a no-op. Returns the number of rows cancelled.
func (r *ReferralRepo) CancelOpenByReferredUser(ctx context.Context, referredID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE referrals
		 SET status = $1
		 WHERE referred_id = $2
		   AND status IN ($3, $4)`,
		types.ReferralStatusCancelled,
		referredID,
		types.ReferralStatusPending,
		types.ReferralStatusConfirmed,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel referrals", err)
	}
	return tag.RowsAffected(), nil
}

// Confirm transitions a referral from pending to confirmed. Returns
// applied = false if the referral is in any other state.
func (r *ReferralRepo) Confirm(ctx context.Context, referralID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE referrals
		 SET status = $1
		 WHERE id = $2 AND status = $3`,
		types.ReferralStatusConfirmed,
		referralID,
		types.ReferralStatusPending,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to confirm referral", err)
	}
	return tag.RowsAffected() > 0, nil
}
