// Package postgres provides the Postgres-backed model and subscriber catalog.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	modelColumns = "id, model, maker, socket, link, biospage, heldversion, helddate"
	userColumns  = "id, email, mobo, givenversion, givendate, verified, signupdate, lastcontacted, donator"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ModelsTable     string
	UsersTable      string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CatalogStore implements tracker.Store on two Postgres tables.
type CatalogStore struct {
	pool   pool
	models string
	users  string
}

// NewCatalogStore connects to Postgres using the provided config.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewCatalogStoreWithPool(p, cfg.ModelsTable, cfg.UsersTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(p pool, modelsTable, usersTable string) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if modelsTable == "" {
		modelsTable = "models"
	}
	if usersTable == "" {
		usersTable = "users"
	}
	for _, table := range []string{modelsTable, usersTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &CatalogStore{pool: p, models: modelsTable, users: usersTable}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// GetModels returns every model row.
func (s *CatalogStore) GetModels(ctx context.Context) ([]tracker.Model, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY model", modelColumns, s.models))
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []tracker.Model
	for rows.Next() {
		var (
			m                                                tracker.Model
			maker, socket, link, biospage, version, heldDate pgtype.Text
		)
		if err := rows.Scan(&m.ID, &m.Name, &maker, &socket, &link, &biospage, &version, &heldDate); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		m.Maker, m.Socket, m.Link = maker.String, socket.String, link.String
		m.BiosPage, m.HeldVersion = biospage.String, version.String
		m.HeldDate = storedDate("model", m.ID, heldDate.String)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return out, nil
}

// SaveModels upserts all models in one statement.
func (s *CatalogStore) SaveModels(ctx context.Context, models []tracker.Model) error {
	if len(models) == 0 {
		return nil
	}
	args := make([]any, 0, len(models)*8)
	for _, m := range models {
		args = append(args, m.ID, m.Name, m.Maker, m.Socket, m.Link, m.BiosPage, nullText(m.HeldVersion), nullText(m.HeldDate.String()))
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES %s
ON CONFLICT (id) DO UPDATE SET
	model = EXCLUDED.model,
	maker = EXCLUDED.maker,
	socket = EXCLUDED.socket,
	link = EXCLUDED.link,
	biospage = EXCLUDED.biospage,
	heldversion = EXCLUDED.heldversion,
	helddate = EXCLUDED.helddate`, s.models, modelColumns, placeholders(len(models), 8))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert models: %w", err)
	}
	return nil
}

// GetUsers returns every subscriber row.
func (s *CatalogStore) GetUsers(ctx context.Context) ([]tracker.User, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s", userColumns, s.users))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []tracker.User
	for rows.Next() {
		var (
			u                        tracker.User
			mobo, version, givenDate pgtype.Text
			verified, donator        pgtype.Bool
			signup, contacted        pgtype.Timestamptz
		)
		if err := rows.Scan(&u.ID, &u.Email, &mobo, &version, &givenDate, &verified, &signup, &contacted, &donator); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Model, u.GivenVersion = mobo.String, version.String
		u.Verified, u.Donator = verified.Bool, donator.Bool
		if signup.Valid {
			u.SignupDate = signup.Time.UTC()
		}
		if contacted.Valid {
			u.LastContacted = contacted.Time.UTC()
		}
		u.GivenDate = storedDate("user", u.ID, givenDate.String)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

// SaveUsers upserts all users in one statement.
func (s *CatalogStore) SaveUsers(ctx context.Context, users []tracker.User) error {
	if len(users) == 0 {
		return nil
	}
	args := make([]any, 0, len(users)*9)
	for _, u := range users {
		args = append(args, u.ID, u.Email, nullText(u.Model), nullText(u.GivenVersion), nullText(u.GivenDate.String()),
			u.Verified, nullTime(u.SignupDate), nullTime(u.LastContacted), u.Donator)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES %s
ON CONFLICT (id) DO UPDATE SET
	email = EXCLUDED.email,
	mobo = EXCLUDED.mobo,
	givenversion = EXCLUDED.givenversion,
	givendate = EXCLUDED.givendate,
	verified = EXCLUDED.verified,
	signupdate = EXCLUDED.signupdate,
	lastcontacted = EXCLUDED.lastcontacted,
	donator = EXCLUDED.donator`, s.users, userColumns, placeholders(len(users), 9))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert users: %w", err)
	}
	return nil
}

// DeleteUser removes a subscriber by email when identifier contains "@", otherwise by id.
func (s *CatalogStore) DeleteUser(ctx context.Context, identifier string) error {
	if identifier == "" {
		return fmt.Errorf("delete user: empty identifier")
	}
	if identifier == tracker.SentinelID {
		return tracker.ErrSentinel
	}
	column := "id"
	if strings.Contains(identifier, "@") {
		column = "email"
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.users, column)
	if _, err := s.pool.Exec(ctx, query, identifier); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func placeholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// storedDate parses a date column. An unreadable value is logged and read as the zero date,
// which every real release is newer than, so the row stays in the batch.
func storedDate(kind, id, raw string) tracker.ReleaseDate {
	d, err := tracker.ParseReleaseDate(raw)
	if err != nil {
		zap.L().Warn("unreadable stored date",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.String("value", raw),
			zap.Error(err))
		return tracker.ReleaseDate{}
	}
	return d
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func nullTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
