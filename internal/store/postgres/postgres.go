package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// Atomically runs fn in a READ COMMITTED transaction. Products, registers
// and sessions are locked with FOR UPDATE before the aggregates that depend
// on them are read, so every aggregate sees the latest committed ledger.
func (s *Store) Atomically(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, false, fn)
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, true, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, readOnly bool, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx, readOnly: readOnly}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx       *sql.Tx
	readOnly bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (t *pgTx) forUpdate() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *pgTx) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	// id order keeps concurrent lockers from deadlocking each other
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, COALESCE(sku, ''), COALESCE(barcode, ''), name, unit, cost, price, track_stock, is_active
		FROM products
		WHERE id = ANY($1)
		ORDER BY id`+t.forUpdate(), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.Unit, &p.Cost, &p.Price, &p.TracksStock, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (t *pgTx) StockSums(ctx context.Context, productIDs []int64) (map[int64]domain.StockSums, error) {
	result := make(map[int64]domain.StockSums, len(productIDs))
	for _, id := range productIDs {
		result[id] = domain.StockSums{}
	}
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT product_id, type, COALESCE(SUM(qty), 0)
		FROM stock_movements
		WHERE product_id = ANY($1)
		GROUP BY product_id, type
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID int64
		var kind string
		var sum decimal.Decimal
		if err := rows.Scan(&productID, &kind, &sum); err != nil {
			return nil, err
		}
		result[productID].Add(domain.StockMovementKind(kind), sum)
	}
	return result, rows.Err()
}

func (t *pgTx) InsertStockMovement(ctx context.Context, m domain.StockMovement) (*domain.StockMovement, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO stock_movements (product_id, type, qty, note, sale_id, created_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`, m.ProductID, string(m.Kind), m.Qty, nullIfEmpty(m.Note), nullInt64(m.SaleID), m.CreatedBy).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (t *pgTx) ListStockMovements(ctx context.Context, productID int64, filter domain.StockMovementFilter) ([]domain.StockMovement, int, error) {
	where := []string{"product_id = $1"}
	args := []any{productID}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_movements WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, product_id, type, qty, COALESCE(note, ''), sale_id, created_by, created_at
		FROM stock_movements
		WHERE ` + clause + `
		ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]domain.StockMovement, 0, 32)
	for rows.Next() {
		var m domain.StockMovement
		var kind string
		var saleID sql.NullInt64
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &m.Qty, &m.Note, &saleID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		m.Kind = domain.StockMovementKind(kind)
		m.SaleID = int64Ptr(saleID)
		m.CreatedAt = m.CreatedAt.UTC()
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (t *pgTx) CreateCashRegister(ctx context.Context, register domain.CashRegister) (*domain.CashRegister, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO cash_registers (name, is_active)
		VALUES ($1,$2)
		RETURNING id, created_at
	`, register.Name, register.Active).Scan(&register.ID, &register.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cash register name %q already exists", store.ErrConflict, register.Name)
		}
		return nil, err
	}
	register.CreatedAt = register.CreatedAt.UTC()
	return &register, nil
}

func (t *pgTx) GetCashRegister(ctx context.Context, id int64) (*domain.CashRegister, error) {
	var r domain.CashRegister
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, name, is_active, created_at
		FROM cash_registers
		WHERE id = $1`+t.forUpdate(), id).Scan(&r.ID, &r.Name, &r.Active, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (t *pgTx) ListCashRegisters(ctx context.Context) ([]domain.CashRegister, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, is_active, created_at
		FROM cash_registers
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	registers := make([]domain.CashRegister, 0, 8)
	for rows.Next() {
		var r domain.CashRegister
		if err := rows.Scan(&r.ID, &r.Name, &r.Active, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		registers = append(registers, r)
	}
	return registers, rows.Err()
}

func (t *pgTx) UpdateCashRegister(ctx context.Context, register domain.CashRegister) (*domain.CashRegister, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE cash_registers
		SET name = $2, is_active = $3
		WHERE id = $1
		RETURNING created_at
	`, register.ID, register.Name, register.Active).Scan(&register.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cash register name %q already exists", store.ErrConflict, register.Name)
		}
		return nil, err
	}
	register.CreatedAt = register.CreatedAt.UTC()
	return &register, nil
}

const sessionColumns = `id, cash_register_id, opened_by, status, opening_amount, opened_at,
	closed_by, closed_at, closing_amount, closed_with_cash_count_id`

func scanSession(row rowScanner) (*domain.CashSession, error) {
	var s domain.CashSession
	var status string
	var closedBy, countID sql.NullInt64
	var closedAt sql.NullTime
	var closingAmount decimal.NullDecimal
	if err := row.Scan(&s.ID, &s.CashRegisterID, &s.OpenedBy, &status, &s.OpeningAmount, &s.OpenedAt,
		&closedBy, &closedAt, &closingAmount, &countID); err != nil {
		return nil, err
	}
	s.Status = domain.CashSessionStatus(status)
	s.OpenedAt = s.OpenedAt.UTC()
	s.ClosedBy = int64Ptr(closedBy)
	s.ClosedWithCashCountID = int64Ptr(countID)
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		s.ClosedAt = &at
	}
	if closingAmount.Valid {
		amount := closingAmount.Decimal
		s.ClosingAmount = &amount
	}
	return &s, nil
}

func (t *pgTx) CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	session.Status = domain.CashSessionOpen
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO cash_sessions (cash_register_id, opened_by, status, opening_amount)
		VALUES ($1,$2,$3,$4)
		RETURNING id, opened_at
	`, session.CashRegisterID, session.OpenedBy, string(session.Status), session.OpeningAmount).Scan(&session.ID, &session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: an open cash session already exists for this register or user", store.ErrConflict)
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	return &session, nil
}

func (t *pgTx) GetCashSession(ctx context.Context, id int64) (*domain.CashSession, error) {
	session, err := scanSession(t.tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE id = $1`+t.forUpdate(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

func (t *pgTx) FindOpenSessionByUser(ctx context.Context, userID int64) (*domain.CashSession, error) {
	return t.findOpenSession(ctx, "opened_by", userID)
}

func (t *pgTx) FindOpenSessionByRegister(ctx context.Context, registerID int64) (*domain.CashSession, error) {
	return t.findOpenSession(ctx, "cash_register_id", registerID)
}

func (t *pgTx) findOpenSession(ctx context.Context, column string, value int64) (*domain.CashSession, error) {
	session, err := scanSession(t.tx.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE `+column+` = $1 AND status = 'OPEN'
		ORDER BY opened_at DESC
		LIMIT 1`+t.forUpdate(), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return session, err
}

func (t *pgTx) ListOpenSessions(ctx context.Context) ([]domain.CashSession, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE status = 'OPEN'
		ORDER BY opened_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, 8)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func (t *pgTx) CloseCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	closed, err := scanSession(t.tx.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET status = 'CLOSED', closed_by = $2, closed_at = $3, closing_amount = $4, closed_with_cash_count_id = $5
		WHERE id = $1 AND status = 'OPEN'
		RETURNING `+sessionColumns,
		session.ID, nullInt64(session.ClosedBy), nullTime(session.ClosedAt), nullDecimal(session.ClosingAmount), nullInt64(session.ClosedWithCashCountID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cash session %d is not open", store.ErrInvalidState, session.ID)
	}
	return closed, err
}

func (t *pgTx) InsertCashMovement(ctx context.Context, m domain.CashMovement) (*domain.CashMovement, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO cash_movements (cash_session_id, type, concept, amount, reference, created_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`, m.SessionID, string(m.Kind), m.Concept, m.Amount, nullIfEmpty(m.Reference), m.CreatedBy).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (t *pgTx) CashMovementSums(ctx context.Context, sessionID int64) (decimal.Decimal, decimal.Decimal, error) {
	var sumIn, sumOut decimal.Decimal
	err := t.tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'IN'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'OUT'), 0)
		FROM cash_movements
		WHERE cash_session_id = $1
	`, sessionID).Scan(&sumIn, &sumOut)
	return sumIn, sumOut, err
}

func (t *pgTx) ListCashMovements(ctx context.Context, sessionID int64) ([]domain.CashMovement, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, cash_session_id, type, concept, amount, COALESCE(reference, ''), created_by, created_at
		FROM cash_movements
		WHERE cash_session_id = $1
		ORDER BY created_at DESC, id DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CashMovement, 0, 32)
	for rows.Next() {
		var m domain.CashMovement
		var kind string
		if err := rows.Scan(&m.ID, &m.SessionID, &kind, &m.Concept, &m.Amount, &m.Reference, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = domain.CashMovementKind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		items = append(items, m)
	}
	return items, rows.Err()
}

func (t *pgTx) InsertCashCount(ctx context.Context, c domain.CashCount) (*domain.CashCount, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO cash_counts (cash_session_id, counted_by, total_counted, expected_total, difference)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`, c.SessionID, c.CountedBy, c.TotalCounted, c.ExpectedTotal, c.Difference).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()

	for _, d := range c.Denominations {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO cash_count_denominations (cash_count_id, denomination, qty, subtotal)
			VALUES ($1,$2,$3,$4)
		`, c.ID, d.Denomination, d.Quantity, d.Subtotal); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (t *pgTx) LatestCashCount(ctx context.Context, sessionID int64) (*domain.CashCount, error) {
	counts, err := t.listCashCounts(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return nil, store.ErrNotFound
	}
	return &counts[0], nil
}

func (t *pgTx) ListCashCounts(ctx context.Context, sessionID int64) ([]domain.CashCount, error) {
	return t.listCashCounts(ctx, sessionID, 0)
}

func (t *pgTx) listCashCounts(ctx context.Context, sessionID int64, limit int) ([]domain.CashCount, error) {
	query := `
		SELECT id, cash_session_id, counted_by, total_counted, expected_total, difference, created_at
		FROM cash_counts
		WHERE cash_session_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	counts := make([]domain.CashCount, 0, 4)
	index := make(map[int64]int)
	ids := make([]int64, 0, 4)
	for rows.Next() {
		var c domain.CashCount
		if err := rows.Scan(&c.ID, &c.SessionID, &c.CountedBy, &c.TotalCounted, &c.ExpectedTotal, &c.Difference, &c.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.Denominations = []domain.CashCountDenomination{}
		index[c.ID] = len(counts)
		ids = append(ids, c.ID)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(ids) == 0 {
		return counts, nil
	}

	denomRows, err := t.tx.QueryContext(ctx, `
		SELECT cash_count_id, denomination, qty, subtotal
		FROM cash_count_denominations
		WHERE cash_count_id = ANY($1)
		ORDER BY cash_count_id, denomination DESC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer denomRows.Close()
	for denomRows.Next() {
		var countID int64
		var d domain.CashCountDenomination
		if err := denomRows.Scan(&countID, &d.Denomination, &d.Quantity, &d.Subtotal); err != nil {
			return nil, err
		}
		i := index[countID]
		counts[i].Denominations = append(counts[i].Denominations, d)
	}
	return counts, denomRows.Err()
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (cash_session_id, status, customer_name, note, subtotal, discount, total, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`, sale.CashSessionID, string(sale.Status), nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.Note),
		sale.Subtotal, sale.Discount, sale.Total, sale.CreatedBy).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	items := make([]domain.SaleItem, len(sale.Items))
	for i, item := range sale.Items {
		if err := t.tx.QueryRowContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, qty, price, subtotal)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, sale.ID, item.ProductID, item.Qty, item.UnitPrice, item.Subtotal).Scan(&item.ID); err != nil {
			return nil, err
		}
		items[i] = item
	}
	sale.Items = items

	payments := make([]domain.SalePayment, len(sale.Payments))
	for i, p := range sale.Payments {
		if err := t.tx.QueryRowContext(ctx, `
			INSERT INTO sale_payments (sale_id, method, amount, reference)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, sale.ID, string(p.Method), p.Amount, nullIfEmpty(p.Reference)).Scan(&p.ID); err != nil {
			return nil, err
		}
		payments[i] = p
	}
	sale.Payments = payments

	return &sale, nil
}

func (t *pgTx) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	var status string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, cash_session_id, status, COALESCE(customer_name, ''), COALESCE(note, ''),
			subtotal, discount, total, created_by, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.CashSessionID, &status, &sale.CustomerName, &sale.Note,
		&sale.Subtotal, &sale.Discount, &sale.Total, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.Status = domain.SaleStatus(status)
	sale.CreatedAt = sale.CreatedAt.UTC()

	itemRows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, qty, price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	sale.Items = make([]domain.SaleItem, 0, 8)
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.UnitPrice, &item.Subtotal); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	paymentRows, err := t.tx.QueryContext(ctx, `
		SELECT id, method, amount, COALESCE(reference, '')
		FROM sale_payments
		WHERE sale_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	sale.Payments = make([]domain.SalePayment, 0, 2)
	for paymentRows.Next() {
		var p domain.SalePayment
		var method string
		if err := paymentRows.Scan(&p.ID, &method, &p.Amount, &p.Reference); err != nil {
			return nil, err
		}
		p.Method = domain.PaymentMethod(method)
		sale.Payments = append(sale.Payments, p)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (t *pgTx) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return nil, fmt.Errorf("%w: username is required", store.ErrValidation)
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO users (username, name, password_hash, is_active)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, user.Username, user.Name, user.Password, user.Active).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %q already exists", store.ErrConflict, user.Username)
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()

	for _, role := range user.Roles {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO user_roles (user_id, role) VALUES ($1,$2)
			ON CONFLICT DO NOTHING
		`, user.ID, role); err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func (t *pgTx) GetUserByID(ctx context.Context, id int64) (*domain.UserAccount, error) {
	return t.getUser(ctx, "id = $1", id)
}

func (t *pgTx) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	return t.getUser(ctx, "username = $1", strings.ToLower(strings.TrimSpace(username)))
}

func (t *pgTx) getUser(ctx context.Context, where string, arg any) (*domain.UserAccount, error) {
	var u domain.UserAccount
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, username, name, password_hash, is_active, created_at
		FROM users
		WHERE `+where, arg).Scan(&u.ID, &u.Username, &u.Name, &u.Password, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()

	rows, err := t.tx.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	u.Roles = make([]string, 0, 2)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}
	return &u, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func int64Ptr(val sql.NullInt64) *int64 {
	if !val.Valid {
		return nil
	}
	v := val.Int64
	return &v
}
