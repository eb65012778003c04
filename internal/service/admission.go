package service

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/ratelimit"
	"github.com/unclebandit/creatorsync/internal/repository"
)

// Admission decides whether a job may be sent at all. Rejections become
// terminal failed records and the transport is never called.
type Admission struct {
	Limiter           ratelimit.Limiter
	Credits           repository.CreditRepositoryInterface
	SecurityTemplates map[string]struct{}
	RateLimitMax      int
	RateLimitWindow   time.Duration
	DefaultCreditCost int
}

// Check returns a non-empty rejection reason when the job must not be sent.
// An error means the decision could not be made and the job should be
// retried later.
func (a *Admission) Check(ctx context.Context, job *model.NotificationJob) (string, error) {
	if a == nil {
		return "", nil
	}

	if _, ok := a.SecurityTemplates[job.Template]; ok && a.Limiter != nil {
		key := job.RateLimitIdentity() + ":" + job.Template
		limited, err := a.Limiter.Limit(ctx, key)
		if err != nil {
			return "", err
		}
		if limited {
			return fmt.Sprintf("rate limit exceeded: %s allows %d attempts per %s", job.Template, a.RateLimitMax, a.RateLimitWindow), nil
		}
	}

	if charge := a.Charge(job); charge != nil && a.Credits != nil {
		remaining, err := a.Credits.Remaining(ctx, charge.BrandID)
		if err != nil {
			return "", fmt.Errorf("read credits for %s: %w", charge.BrandID, err)
		}
		if remaining < charge.Amount {
			return fmt.Sprintf("insufficient credits: remaining=%d required=%d", remaining, charge.Amount), nil
		}
	}
	return "", nil
}

// Charge returns what a campaign-attributed send costs, or nil when the job
// is not credit-gated.
func (a *Admission) Charge(job *model.NotificationJob) *model.CreditCharge {
	if a == nil {
		return nil
	}
	brandID := job.Metadata.String("brand_id")
	if brandID == "" || job.Metadata.String("campaign_id") == "" {
		return nil
	}
	cost, ok := job.Metadata.Int("credit_cost")
	if !ok || cost < 0 {
		cost = a.DefaultCreditCost
	}
	return &model.CreditCharge{BrandID: brandID, Amount: cost}
}
