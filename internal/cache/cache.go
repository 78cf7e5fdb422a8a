package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/Paisa224/ferreteria/internal/domain"
)

// SaleCache holds persisted sales. Sales never change after commit, so an
// entry is valid until its TTL runs out.
type SaleCache interface {
	Get(ctx context.Context, saleID int64) (*domain.Sale, bool, error)
	Set(ctx context.Context, sale *domain.Sale, ttl time.Duration) error
}

func SaleKey(saleID int64) string {
	return "sale:" + strconv.FormatInt(saleID, 10)
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ int64) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.Sale, _ time.Duration) error {
	return nil
}
