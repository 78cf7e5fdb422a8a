package memory

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Paisa224/ferreteria/internal/domain"
)

// NewSeeded returns a store with demo registers, users and a small
// hardware-store catalog with opening stock. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_VENDEDOR_PASSWORD, with dev defaults.
func NewSeeded() *Store {
	s := New()
	st := s.state
	now := time.Now().UTC()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	vendedorPwd := envOr("SEED_VENDEDOR_PASSWORD", "vendedor123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_VENDEDOR_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_VENDEDOR_PASSWORD to override")
	}

	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Administrador", adminPwd, domain.RoleSuperAdmin},
		{"vendedor", "Vendedor", vendedorPwd, domain.RoleVendedor},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		id := st.next("users")
		st.users[id] = domain.UserAccount{
			ID:        id,
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Roles:     []string{u.role},
			Active:    true,
			CreatedAt: now,
		}
	}

	for _, name := range []string{"Caja 1", "Caja 2"} {
		id := st.next("cash_registers")
		st.registers[id] = domain.CashRegister{ID: id, Name: name, Active: true, CreatedAt: now}
	}

	products := []struct {
		product domain.Product
		initial int64
	}{
		{domain.Product{SKU: "MART-16", Barcode: "7790001000016", Name: "Martillo carpintero 16oz", Unit: "UN", Cost: decimal.NewFromInt(28000), Price: decimal.NewFromInt(45000), TracksStock: true, Active: true}, 12},
		{domain.Product{SKU: "DEST-PH2", Barcode: "7790001000023", Name: "Destornillador Phillips PH2", Unit: "UN", Cost: decimal.NewFromInt(9000), Price: decimal.NewFromInt(15000), TracksStock: true, Active: true}, 30},
		{domain.Product{SKU: "CLAVO-2", Name: "Clavo punta paris 2\"", Unit: "KG", Cost: decimal.NewFromInt(11000), Price: decimal.NewFromInt(18000), TracksStock: true, Active: true}, 25},
		{domain.Product{SKU: "CABLE-25", Name: "Cable unipolar 2.5mm", Unit: "M", Cost: decimal.NewFromInt(2200), Price: decimal.NewFromInt(3500), TracksStock: true, Active: true}, 300},
		{domain.Product{SKU: "PINT-LAT", Name: "Pintura latex interior", Unit: "L", Cost: decimal.NewFromInt(16000), Price: decimal.NewFromInt(26000), TracksStock: true, Active: true}, 40},
		{domain.Product{SKU: "CORTE-LLAVE", Name: "Copia de llave", Unit: "UN", Cost: decimal.Zero, Price: decimal.NewFromInt(10000), TracksStock: false, Active: true}, 0},
	}
	for _, p := range products {
		product := p.product
		product.ID = st.next("products")
		st.products[product.ID] = product
		if p.initial > 0 {
			st.stockMovements = append(st.stockMovements, domain.StockMovement{
				ID:        st.next("stock_movements"),
				ProductID: product.ID,
				Kind:      domain.StockIn,
				Qty:       decimal.NewFromInt(p.initial),
				Note:      "Initial stock",
				CreatedBy: 1,
				CreatedAt: now,
			})
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
