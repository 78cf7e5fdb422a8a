// Command seeduser creates a user account with roles in the configured
// Postgres database.
//
//	DATABASE_URL=postgres://... SEED_PASSWORD=... go run ./cmd/seeduser -username caja1 -roles VENDEDOR
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/Paisa224/ferreteria/internal/authz"
	"github.com/Paisa224/ferreteria/internal/config"
	"github.com/Paisa224/ferreteria/internal/domain"
	"github.com/Paisa224/ferreteria/internal/store"
	pgstore "github.com/Paisa224/ferreteria/internal/store/postgres"
)

const minPasswordLength = 8

type options struct {
	username string
	name     string
	password string
	roles    []string
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	username := flag.String("username", "", "login name for the new account")
	name := flag.String("name", "", "display name (defaults to username)")
	roles := flag.String("roles", domain.RoleVendedor, "comma separated roles")
	flag.Parse()

	opts, err := parseOptions(*username, *name, os.Getenv("SEED_PASSWORD"), *roles)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required; the in-memory store does not outlive this process")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres unavailable")
	}
	defer pg.Close()

	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
	}

	user, err := createUser(ctx, pg, opts)
	if errors.Is(err, store.ErrConflict) {
		log.Fatal().Err(err).Str("username", opts.username).Msg("user already exists")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user")
	}
	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Strs("roles", user.Roles).Msg("user created")
}

func parseOptions(username, name, password, roles string) (options, error) {
	opts := options{
		username: strings.ToLower(strings.TrimSpace(username)),
		name:     strings.TrimSpace(name),
		password: password,
	}
	if opts.username == "" {
		return options{}, errors.New("-username is required")
	}
	if opts.name == "" {
		opts.name = opts.username
	}
	if len(opts.password) < minPasswordLength {
		return options{}, fmt.Errorf("SEED_PASSWORD must be at least %d characters", minPasswordLength)
	}

	known := authz.DefaultRoleCapabilities()
	for _, raw := range strings.Split(roles, ",") {
		role := strings.ToUpper(strings.TrimSpace(raw))
		if role == "" {
			continue
		}
		if _, ok := known[role]; !ok {
			return options{}, fmt.Errorf("unknown role %q", role)
		}
		if !slices.Contains(opts.roles, role) {
			opts.roles = append(opts.roles, role)
		}
	}
	if len(opts.roles) == 0 {
		return options{}, errors.New("at least one role is required")
	}
	return opts, nil
}

func createUser(ctx context.Context, st store.Store, opts options) (*domain.UserAccount, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var created *domain.UserAccount
	err = st.Atomically(ctx, func(tx store.Tx) error {
		created, err = tx.CreateUser(ctx, domain.UserAccount{
			Username:  opts.username,
			Name:      opts.name,
			Password:  string(hash),
			Roles:     opts.roles,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		return err
	})
	return created, err
}
