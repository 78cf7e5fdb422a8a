package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/cache"
	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Authorizer answers capability questions about a user. It must not be
// called from inside a store unit.
type Authorizer interface {
	HasCapability(ctx context.Context, userID int64, capability domain.Capability) (bool, error)
}

// Policy holds the deployment switches of the sale and count flows.
type Policy struct {
	RequirePaymentReference bool
	AllowCashChange         bool
	SaleCacheTTL            time.Duration
	Denominations           []decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		AllowCashChange: true,
		SaleCacheTTL:    5 * time.Minute,
		Denominations:   DefaultDenominations(),
	}
}

func DefaultDenominations() []decimal.Decimal {
	values := []int64{1000, 2000, 5000, 10000, 20000, 50000, 100000}
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

type Service struct {
	store     store.Store
	authz     Authorizer
	saleCache cache.SaleCache
	policy    Policy
	validate  *validator.Validate
	now       func() time.Time
}

func New(st store.Store, authorizer Authorizer, saleCache cache.SaleCache, policy Policy) *Service {
	if saleCache == nil {
		saleCache = cache.NoopSaleCache{}
	}
	if policy.SaleCacheTTL <= 0 {
		policy.SaleCacheTTL = 5 * time.Minute
	}
	if len(policy.Denominations) == 0 {
		policy.Denominations = DefaultDenominations()
	}

	return &Service{
		store:     st,
		authz:     authorizer,
		saleCache: saleCache,
		policy:    policy,
		validate:  newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// validateRequest runs the struct tags of req and reports every failing
// field as a single validation error.
func (s *Service) validateRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fieldPath(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", store.ErrValidation, strings.Join(parts, "; "))
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func (s *Service) canManageCash(ctx context.Context, userID int64) (bool, error) {
	if s.authz == nil {
		return false, nil
	}
	ok, err := s.authz.HasCapability(ctx, userID, domain.CapCashManage)
	if err != nil {
		return false, fmt.Errorf("check capability: %w", err)
	}
	return ok, nil
}

// assertSessionAccess lets the opener and cash managers through.
func assertSessionAccess(session *domain.CashSession, userID int64, canManage bool) error {
	if session.OpenedBy == userID || canManage {
		return nil
	}
	return fmt.Errorf("%w: cash session %d belongs to another user", store.ErrForbidden, session.ID)
}

func requirePositiveID(name string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s must be a positive id", store.ErrValidation, name)
	}
	return nil
}

func wrapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", store.ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func logAudit(action string, userID int64) *zerolog.Event {
	return log.Info().Str("component", "service").Str("action", action).Int64("user_id", userID)
}
