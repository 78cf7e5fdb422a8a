package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

var errReadOnly = errors.New("memory store: write attempted in read-only unit")

// Store keeps every table in process memory. A write unit works on a copy of
// the tables and publishes it only when the callback succeeds, so a failed
// unit leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	products       map[int64]domain.Product
	stockMovements []domain.StockMovement
	registers      map[int64]domain.CashRegister
	sessions       map[int64]domain.CashSession
	cashMovements  []domain.CashMovement
	cashCounts     []domain.CashCount
	sales          map[int64]domain.Sale
	users          map[int64]domain.UserAccount
	seq            map[string]int64
}

func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		products:  make(map[int64]domain.Product),
		registers: make(map[int64]domain.CashRegister),
		sessions:  make(map[int64]domain.CashSession),
		sales:     make(map[int64]domain.Sale),
		users:     make(map[int64]domain.UserAccount),
		seq:       make(map[string]int64),
	}
}

// clone copies the tables. Rows are values whose nested slices and pointers
// are never written in place, so a shallow copy per table is enough.
func (st *state) clone() *state {
	return &state{
		products:       maps.Clone(st.products),
		stockMovements: slices.Clone(st.stockMovements),
		registers:      maps.Clone(st.registers),
		sessions:       maps.Clone(st.sessions),
		cashMovements:  slices.Clone(st.cashMovements),
		cashCounts:     slices.Clone(st.cashCounts),
		sales:          maps.Clone(st.sales),
		users:          maps.Clone(st.users),
		seq:            maps.Clone(st.seq),
	}
}

func (st *state) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

func (s *Store) Atomically(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(&tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&tx{state: s.state, readOnly: true})
}

// AddProduct registers a catalog row. The catalog is owned outside the core,
// so this is only used for seeding and tests.
func (s *Store) AddProduct(product domain.Product) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == 0 {
		product.ID = s.state.next("products")
	}
	product.Unit = strings.ToUpper(strings.TrimSpace(product.Unit))
	s.state.products[product.ID] = product
	return product
}

type tx struct {
	state    *state
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *tx) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := t.state.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (t *tx) StockSums(_ context.Context, productIDs []int64) (map[int64]domain.StockSums, error) {
	result := make(map[int64]domain.StockSums, len(productIDs))
	for _, id := range productIDs {
		result[id] = domain.StockSums{}
	}
	for _, m := range t.state.stockMovements {
		sums, ok := result[m.ProductID]
		if !ok {
			continue
		}
		sums.Add(m.Kind, m.Qty)
	}
	return result, nil
}

func (t *tx) InsertStockMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if _, ok := t.state.products[movement.ProductID]; !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, movement.ProductID)
	}
	movement.ID = t.state.next("stock_movements")
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	t.state.stockMovements = append(t.state.stockMovements, movement)
	saved := movement
	return &saved, nil
}

func (t *tx) ListStockMovements(_ context.Context, productID int64, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error) {
	items := make([]domain.StockMovement, 0, 16)
	for _, m := range t.state.stockMovements {
		if m.ProductID != productID {
			continue
		}
		if filter.From != nil && m.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && m.CreatedAt.After(*filter.To) {
			continue
		}
		items = append(items, m)
	}
	slices.SortFunc(items, func(a, b domain.StockMovement) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	total := len(items)
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, total, nil
}

func (t *tx) CreateCashRegister(_ context.Context, register domain.CashRegister) (*domain.CashRegister, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if t.registerNameTaken(register.Name, 0) {
		return nil, fmt.Errorf("%w: cash register name %q already exists", store.ErrConflict, register.Name)
	}
	register.ID = t.state.next("cash_registers")
	if register.CreatedAt.IsZero() {
		register.CreatedAt = time.Now().UTC()
	}
	t.state.registers[register.ID] = register
	saved := register
	return &saved, nil
}

func (t *tx) registerNameTaken(name string, exceptID int64) bool {
	for id, reg := range t.state.registers {
		if id != exceptID && reg.Name == name {
			return true
		}
	}
	return false
}

func (t *tx) GetCashRegister(_ context.Context, id int64) (*domain.CashRegister, error) {
	register, ok := t.state.registers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &register, nil
}

func (t *tx) ListCashRegisters(_ context.Context) ([]domain.CashRegister, error) {
	registers := slices.Collect(maps.Values(t.state.registers))
	slices.SortFunc(registers, func(a, b domain.CashRegister) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return registers, nil
}

func (t *tx) UpdateCashRegister(_ context.Context, register domain.CashRegister) (*domain.CashRegister, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	existing, ok := t.state.registers[register.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.registerNameTaken(register.Name, register.ID) {
		return nil, fmt.Errorf("%w: cash register name %q already exists", store.ErrConflict, register.Name)
	}
	register.CreatedAt = existing.CreatedAt
	t.state.registers[register.ID] = register
	saved := register
	return &saved, nil
}

func (t *tx) CreateCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	for _, existing := range t.state.sessions {
		if !existing.IsOpen() {
			continue
		}
		if existing.CashRegisterID == session.CashRegisterID || existing.OpenedBy == session.OpenedBy {
			return nil, fmt.Errorf("%w: open cash session %d already exists", store.ErrConflict, existing.ID)
		}
	}
	session.ID = t.state.next("cash_sessions")
	session.Status = domain.CashSessionOpen
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	t.state.sessions[session.ID] = session
	saved := session
	return &saved, nil
}

func (t *tx) GetCashSession(_ context.Context, id int64) (*domain.CashSession, error) {
	session, ok := t.state.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &session, nil
}

func (t *tx) FindOpenSessionByUser(_ context.Context, userID int64) (*domain.CashSession, error) {
	return t.findOpenSession(func(s domain.CashSession) bool { return s.OpenedBy == userID })
}

func (t *tx) FindOpenSessionByRegister(_ context.Context, registerID int64) (*domain.CashSession, error) {
	return t.findOpenSession(func(s domain.CashSession) bool { return s.CashRegisterID == registerID })
}

func (t *tx) findOpenSession(match func(domain.CashSession) bool) (*domain.CashSession, error) {
	for _, session := range t.state.sessions {
		if session.IsOpen() && match(session) {
			found := session
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListOpenSessions(_ context.Context) ([]domain.CashSession, error) {
	open := make([]domain.CashSession, 0, 4)
	for _, session := range t.state.sessions {
		if session.IsOpen() {
			open = append(open, session)
		}
	}
	slices.SortFunc(open, func(a, b domain.CashSession) int {
		return b.OpenedAt.Compare(a.OpenedAt)
	})
	return open, nil
}

func (t *tx) CloseCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	existing, ok := t.state.sessions[session.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !existing.IsOpen() {
		return nil, fmt.Errorf("%w: cash session %d is already closed", store.ErrInvalidState, session.ID)
	}
	existing.Status = domain.CashSessionClosed
	existing.ClosedBy = session.ClosedBy
	existing.ClosedAt = session.ClosedAt
	existing.ClosingAmount = session.ClosingAmount
	existing.ClosedWithCashCountID = session.ClosedWithCashCountID
	t.state.sessions[session.ID] = existing
	return &existing, nil
}

func (t *tx) InsertCashMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if _, ok := t.state.sessions[movement.SessionID]; !ok {
		return nil, fmt.Errorf("%w: cash session %d", store.ErrNotFound, movement.SessionID)
	}
	movement.ID = t.state.next("cash_movements")
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	t.state.cashMovements = append(t.state.cashMovements, movement)
	saved := movement
	return &saved, nil
}

func (t *tx) CashMovementSums(_ context.Context, sessionID int64) (decimal.Decimal, decimal.Decimal, error) {
	sumIn, sumOut := decimal.Zero, decimal.Zero
	for _, m := range t.state.cashMovements {
		if m.SessionID != sessionID {
			continue
		}
		switch m.Kind {
		case domain.CashIn:
			sumIn = sumIn.Add(m.Amount)
		case domain.CashOut:
			sumOut = sumOut.Add(m.Amount)
		}
	}
	return sumIn, sumOut, nil
}

func (t *tx) ListCashMovements(_ context.Context, sessionID int64) ([]domain.CashMovement, error) {
	items := make([]domain.CashMovement, 0, 16)
	for _, m := range t.state.cashMovements {
		if m.SessionID == sessionID {
			items = append(items, m)
		}
	}
	slices.SortFunc(items, func(a, b domain.CashMovement) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return items, nil
}

func (t *tx) InsertCashCount(_ context.Context, count domain.CashCount) (*domain.CashCount, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if _, ok := t.state.sessions[count.SessionID]; !ok {
		return nil, fmt.Errorf("%w: cash session %d", store.ErrNotFound, count.SessionID)
	}
	count.ID = t.state.next("cash_counts")
	if count.CreatedAt.IsZero() {
		count.CreatedAt = time.Now().UTC()
	}
	count.Denominations = slices.Clone(count.Denominations)
	t.state.cashCounts = append(t.state.cashCounts, count)
	saved := count
	return &saved, nil
}

func (t *tx) LatestCashCount(ctx context.Context, sessionID int64) (*domain.CashCount, error) {
	counts, err := t.ListCashCounts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, store.ErrNotFound
	}
	return &counts[0], nil
}

func (t *tx) ListCashCounts(_ context.Context, sessionID int64) ([]domain.CashCount, error) {
	items := make([]domain.CashCount, 0, 4)
	for _, c := range t.state.cashCounts {
		if c.SessionID == sessionID {
			items = append(items, c)
		}
	}
	slices.SortFunc(items, func(a, b domain.CashCount) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return items, nil
}

func (t *tx) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if _, ok := t.state.sessions[sale.CashSessionID]; !ok {
		return nil, fmt.Errorf("%w: cash session %d", store.ErrNotFound, sale.CashSessionID)
	}
	sale.ID = t.state.next("sales")
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Items = slices.Clone(sale.Items)
	for i := range sale.Items {
		sale.Items[i].ID = t.state.next("sale_items")
	}
	sale.Payments = slices.Clone(sale.Payments)
	for i := range sale.Payments {
		sale.Payments[i].ID = t.state.next("sale_payments")
	}
	t.state.sales[sale.ID] = sale
	saved := cloneSale(sale)
	return &saved, nil
}

func (t *tx) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	sale, ok := t.state.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := cloneSale(sale)
	return &found, nil
}

func (t *tx) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	user.Username = normalizeUsername(user.Username)
	if user.Username == "" {
		return nil, fmt.Errorf("%w: username is required", store.ErrValidation)
	}
	for _, existing := range t.state.users {
		if existing.Username == user.Username {
			return nil, fmt.Errorf("%w: username %q already exists", store.ErrConflict, user.Username)
		}
	}
	user.ID = t.state.next("users")
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Roles = slices.Clone(user.Roles)
	t.state.users[user.ID] = user
	saved := user
	return &saved, nil
}

func (t *tx) GetUserByID(_ context.Context, id int64) (*domain.UserAccount, error) {
	user, ok := t.state.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	user.Roles = slices.Clone(user.Roles)
	return &user, nil
}

func (t *tx) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	username = normalizeUsername(username)
	for _, user := range t.state.users {
		if user.Username == username {
			user.Roles = slices.Clone(user.Roles)
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func cloneSale(src domain.Sale) domain.Sale {
	out := src
	out.Items = slices.Clone(src.Items)
	out.Payments = slices.Clone(src.Payments)
	return out
}
