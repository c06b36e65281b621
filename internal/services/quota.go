package services

import (
	"context"
	"fmt"
	"time"

	"gumroad/internal/domain"
	"gumroad/internal/repos"
)

// QuotaAction names a rate-limited account action.
type QuotaAction string

const ActionProductCreation QuotaAction = "product_creation"

const DefaultDailyProductLimit = 10

// QuotaExceededMessage is shown to sellers who hit the daily product limit.
func QuotaExceededMessage(limit int) string {
	return fmt.Sprintf("Sorry, you can only create %d products per day.", limit)
}

// ProductCreationLimiter enforces a daily cap on account actions. Accounts that
// passed risk review are not limited.
type ProductCreationLimiter interface {
	Exceeded(ctx context.Context, user *domain.User, action QuotaAction) (bool, error)
	// Record counts one performed action. Implementations that derive usage
	// from stored rows may treat it as a no-op.
	Record(ctx context.Context, user *domain.User, action QuotaAction) error
	Limit() int
}

// DBQuota counts the account's products created in the trailing 24 hours.
type DBQuota struct {
	Products *repos.ProductRepo
	Max      int
	Now      func() time.Time
}

func NewDBQuota(products *repos.ProductRepo, max int) *DBQuota {
	if max <= 0 {
		max = DefaultDailyProductLimit
	}
	return &DBQuota{Products: products, Max: max, Now: time.Now}
}

func (q *DBQuota) Limit() int { return q.Max }

func (q *DBQuota) Exceeded(ctx context.Context, user *domain.User, action QuotaAction) (bool, error) {
	if user == nil || user.Compliant() || action != ActionProductCreation {
		return false, nil
	}
	n, err := q.Products.CountCreatedSince(ctx, user.ID, q.Now().Add(-24*time.Hour))
	if err != nil {
		return false, err
	}
	return n >= q.Max, nil
}

func (q *DBQuota) Record(context.Context, *domain.User, QuotaAction) error { return nil }
