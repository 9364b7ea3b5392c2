package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/storage/dialect"
)

// Store is a SQL implementation of TradeStore and TradeEventStore
// that supports multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect *dialect.Dialect
}

// Ensure Store implements StorageProvider
var _ ports.StorageProvider = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.Lookup(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.Init {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize connection: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store (convenience function for backwards compatibility)
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() *dialect.Dialect {
	return s.dialect
}

func (s *Store) initSchema() error {
	d := s.dialect
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	origin_kind TEXT NOT NULL,
	seller_user_id TEXT NOT NULL,
	buyer_user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	total_amount %s NOT NULL,
	record %s NOT NULL,
	version INTEGER NOT NULL,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
)`, d.DecimalType, d.TextType, d.TimestampType, d.TimestampType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trade_events (
	seq %s,
	id TEXT NOT NULL UNIQUE,
	trade_id TEXT NOT NULL,
	type TEXT NOT NULL,
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL DEFAULT '',
	actor_user_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL DEFAULT '',
	version INTEGER NOT NULL,
	created_at %s NOT NULL
)`, d.SerialKey, d.TimestampType),
		`CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades(seller_user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades(buyer_user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_trade ON trade_events(trade_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// Run migrations for existing databases - add columns that may not exist
	if err := s.runMigrations(); err != nil {
		return err
	}

	// Create indexes after ensuring columns exist
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
	}

	for _, stmt := range indexes {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func (s *Store) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"trades", "contract_date", fmt.Sprintf("ALTER TABLE trades ADD COLUMN contract_date %s", s.dialect.TimestampType)},
	}

	for _, m := range migrations {
		exists, err := s.columnExists(m.table, m.column)
		if err != nil {
			return fmt.Errorf("failed to check column %s.%s: %w", m.table, m.column, err)
		}
		if !exists {
			if _, err := s.db.Exec(s.dialect.Rebind(m.ddl)); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	query := s.dialect.ColumnExistsQuery()
	err := s.db.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type tradeRow struct {
	Record  string `db:"record"`
	Version int64  `db:"version"`
}

func (r tradeRow) decode() (*domain.StoredTrade, error) {
	var rec domain.TradeRecord
	if err := json.Unmarshal([]byte(r.Record), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trade record: %w", err)
	}
	return &domain.StoredTrade{Record: &rec, Version: r.Version}, nil
}

func (s *Store) GetTrade(ctx context.Context, id string) (*domain.StoredTrade, error) {
	query := s.dialect.Rebind(`SELECT record, version FROM trades WHERE id = ?`)

	var row tradeRow
	err := s.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}

	return row.decode()
}

func (s *Store) ListTradesByOwner(ctx context.Context, userID string, role domain.Role) ([]*domain.StoredTrade, error) {
	var column string
	switch role {
	case domain.RoleSeller:
		column = "seller_user_id"
	case domain.RoleBuyer:
		column = "buyer_user_id"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	query := s.dialect.Rebind(fmt.Sprintf(`SELECT record, version FROM trades
	          WHERE %s = ?
	          ORDER BY updated_at DESC, id ASC`, column))

	var rows []tradeRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	result := make([]*domain.StoredTrade, 0, len(rows))
	for _, row := range rows {
		st, err := row.decode()
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}

func (s *Store) WriteTrade(ctx context.Context, rec *domain.TradeRecord, expectedVersion int64) (int64, error) {
	if rec == nil || rec.ID == "" {
		return 0, fmt.Errorf("trade record has no id")
	}

	stored := rec.Clone()
	stored.Todos = nil
	payload, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal trade record: %w", err)
	}

	var contractDate *time.Time
	if stored.ContractDate != nil {
		utc := stored.ContractDate.UTC()
		contractDate = &utc
	}

	var result sql.Result
	if expectedVersion == 0 {
		query := s.dialect.Rebind(`INSERT INTO trades
	          (id, origin_kind, seller_user_id, buyer_user_id, status, total_amount, record, version, created_at, updated_at, contract_date)
	          VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?) ` + s.dialect.InsertIgnore("id"))

		result, err = s.db.ExecContext(ctx, query,
			stored.ID, string(stored.OriginKind), stored.SellerUserID, stored.BuyerUserID,
			string(stored.Status), stored.TotalAmount.String(), string(payload),
			stored.CreatedAt.UTC(), stored.UpdatedAt.UTC(), contractDate)
	} else {
		query := s.dialect.Rebind(`UPDATE trades
	          SET status = ?, total_amount = ?, record = ?, version = version + 1, updated_at = ?, contract_date = ?
	          WHERE id = ? AND version = ?`)

		result, err = s.db.ExecContext(ctx, query,
			string(stored.Status), stored.TotalAmount.String(), string(payload),
			stored.UpdatedAt.UTC(), contractDate, stored.ID, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write trade: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return 0, domain.ErrConflict(fmt.Sprintf("trade %s is no longer at version %d", rec.ID, expectedVersion)).
			WithCode(domain.ErrorCodeVersionMismatch).
			WithTradeID(rec.ID)
	}

	return expectedVersion + 1, nil
}

type eventRow struct {
	ID          string    `db:"id"`
	TradeID     string    `db:"trade_id"`
	Type        string    `db:"type"`
	FromStatus  string    `db:"from_status"`
	ToStatus    string    `db:"to_status"`
	ActorUserID string    `db:"actor_user_id"`
	Action      string    `db:"action"`
	Version     int64     `db:"version"`
	CreatedAt   time.Time `db:"created_at"`
}

func (s *Store) AppendTradeEvent(ctx context.Context, event *domain.TradeEvent) error {
	query := s.dialect.Rebind(`INSERT INTO trade_events
	          (id, trade_id, type, from_status, to_status, actor_user_id, action, version, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.TradeID, string(event.Type), string(event.FromStatus), string(event.ToStatus),
		event.ActorUserID, string(event.Action), event.Version, event.CreatedAt.UTC())
	if s.dialect.IsUniqueViolation(err) {
		return domain.ErrConflict(fmt.Sprintf("trade event %s already recorded", event.ID)).
			WithTradeID(event.TradeID)
	}
	if err != nil {
		return fmt.Errorf("failed to append trade event: %w", err)
	}

	return nil
}

func (s *Store) ListTradeEvents(ctx context.Context, tradeID string) ([]*domain.TradeEvent, error) {
	query := s.dialect.Rebind(`SELECT id, trade_id, type, from_status, to_status, actor_user_id, action, version, created_at
	          FROM trade_events WHERE trade_id = ?
	          ORDER BY seq ASC`)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, tradeID); err != nil {
		return nil, fmt.Errorf("failed to list trade events: %w", err)
	}

	events := make([]*domain.TradeEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, &domain.TradeEvent{
			ID:          row.ID,
			TradeID:     row.TradeID,
			Type:        domain.TradeEventType(row.Type),
			FromStatus:  domain.Status(row.FromStatus),
			ToStatus:    domain.Status(row.ToStatus),
			ActorUserID: row.ActorUserID,
			Action:      domain.Action(row.Action),
			Version:     row.Version,
			CreatedAt:   row.CreatedAt,
		})
	}
	return events, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
