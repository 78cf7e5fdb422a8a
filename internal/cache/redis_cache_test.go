package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
)

// hookBackend answers GET/SET/PING from a map inside a go-redis process
// hook, so the client never dials.
type hookBackend struct {
	mu   sync.Mutex
	data map[string]string
	args map[string][]any
}

func newHookBackend() *hookBackend {
	return &hookBackend{data: make(map[string]string), args: make(map[string][]any)}
}

func (b *hookBackend) DialHook(next redis.DialHook) redis.DialHook { return next }

func (b *hookBackend) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (b *hookBackend) ProcessHook(_ redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		args := cmd.Args()
		switch cmd.Name() {
		case "ping":
			cmd.(*redis.StatusCmd).SetVal("PONG")
		case "set":
			key := args[1].(string)
			switch v := args[2].(type) {
			case []byte:
				b.data[key] = string(v)
			case string:
				b.data[key] = v
			default:
				b.data[key] = fmt.Sprint(v)
			}
			b.args[key] = args
			cmd.(*redis.StatusCmd).SetVal("OK")
		case "get":
			val, ok := b.data[args[1].(string)]
			if !ok {
				cmd.SetErr(redis.Nil)
				return redis.Nil
			}
			cmd.(*redis.StringCmd).SetVal(val)
		default:
			err := fmt.Errorf("unsupported command %q", cmd.Name())
			cmd.SetErr(err)
			return err
		}
		return nil
	}
}

func newHookedSaleCache(t *testing.T) (*RedisSaleCache, *hookBackend) {
	t.Helper()
	backend := newHookBackend()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(backend)
	c := NewRedisSaleCacheWithClient(client)
	t.Cleanup(func() { _ = c.Close() })
	return c, backend
}

func TestRedisSaleCacheRoundTrip(t *testing.T) {
	c, backend := newHookedSaleCache(t)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	createdAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	sale := &domain.Sale{
		ID:            12,
		CashSessionID: 3,
		Status:        domain.SalePaid,
		Subtotal:      decimal.RequireFromString("22680"),
		Discount:      decimal.RequireFromString("680"),
		Total:         decimal.RequireFromString("22000"),
		CreatedBy:     2,
		CreatedAt:     createdAt,
		Items: []domain.SaleItem{
			{ProductID: 3, Qty: decimal.RequireFromString("1.26"), UnitPrice: decimal.RequireFromString("18000"), Subtotal: decimal.RequireFromString("22680")},
		},
		Payments: []domain.SalePayment{
			{Method: domain.PaymentCash, Amount: decimal.RequireFromString("20000")},
			{Method: domain.PaymentQR, Amount: decimal.RequireFromString("2000"), Reference: "QR-991"},
		},
	}
	if err := c.Set(ctx, sale, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if args := backend.args[SaleKey(12)]; len(args) != 5 {
		t.Fatalf("expected SET with an expiry, got args %v", args)
	}

	got, ok, err := c.Get(ctx, 12)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !got.Total.Equal(sale.Total) || !got.Discount.Equal(sale.Discount) || !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected sale header %+v", got)
	}
	if len(got.Items) != 1 || !got.Items[0].Qty.Equal(decimal.RequireFromString("1.26")) {
		t.Fatalf("unexpected items %+v", got.Items)
	}
	if len(got.Payments) != 2 || got.Payments[1].Reference != "QR-991" || !got.Payments[1].Amount.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("unexpected payments %+v", got.Payments)
	}
}

func TestRedisSaleCacheMissAndBadPayload(t *testing.T) {
	c, backend := newHookedSaleCache(t)
	ctx := context.Background()

	sale, ok, err := c.Get(ctx, 404)
	if err != nil || ok || sale != nil {
		t.Fatalf("expected clean miss, got sale=%v ok=%v err=%v", sale, ok, err)
	}

	backend.data[SaleKey(5)] = "{not json"
	if _, ok, err := c.Get(ctx, 5); err == nil || ok {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, &domain.Sale{}, time.Minute); err != nil {
		t.Fatalf("set of unsaved sale: %v", err)
	}
	if err := c.Set(ctx, nil, time.Minute); err != nil {
		t.Fatalf("set of nil sale: %v", err)
	}
	if len(backend.data) != 1 {
		t.Fatalf("expected unsaved sales to be skipped, got keys %v", backend.data)
	}
}
