package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
)

// Field limits enforced before any write.
const (
	MaxExternalIDLen = 128
	MaxTitleLen      = 500
	MaxCategoryLen   = 100
	MaxCurrencyLen   = 8
	MaxAssetURLLen   = 1000
)

// SQLiteStore implements MetadataStore on a single SQLite database in
// WAL mode. The connection pool is capped at one writer; every
// operation is its own transaction.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	config MetadataConfig
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

// validateIntegrity checks an existing database before opening it.
// Unlike a derived index, the metadata store is the source of truth, so
// corruption is surfaced as a fatal error instead of auto-clearing.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens or creates the metadata database at path. An
// empty path opens an in-memory database for tests.
func NewSQLiteStore(path string, cfg MetadataConfig) (*SQLiteStore, error) {
	defaults := DefaultMetadataConfig()
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = defaults.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaults.MaxPageSize
	}
	if cfg.CacheMB <= 0 {
		cfg.CacheMB = defaults.CacheMB
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaults.BusyTimeout
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, vitrineerrors.New(vitrineerrors.ErrCodeDataDir,
				fmt.Sprintf("failed to create directory %s", filepath.Dir(path)), err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, vitrineerrors.New(vitrineerrors.ErrCodeStoreCorrupt,
				fmt.Sprintf("metadata database at %s is corrupted", path), err).
				WithSuggestion("restore the database from backup or remove it and reindex the catalog")
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, vitrineerrors.StoreError("failed to open metadata database", err)
	}

	// Single writer prevents lock contention between the pipeline and
	// the read path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params, so pragmas are set
	// explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.CacheMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, vitrineerrors.StoreError("failed to set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, config: cfg}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, vitrineerrors.StoreError("failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Timestamps are unix nanoseconds so fencing comparisons are exact.
	CREATE TABLE IF NOT EXISTS items (
		internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
		external_id TEXT NOT NULL UNIQUE,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		price       REAL,
		currency    TEXT NOT NULL DEFAULT '',
		asset_url   TEXT NOT NULL DEFAULT '',
		attributes  TEXT NOT NULL DEFAULT '{}',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

	-- Append-only search log.
	CREATE TABLE IF NOT EXISTS search_events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		query_kind   TEXT NOT NULL,
		query_text   TEXT NOT NULL DEFAULT '',
		reference_id TEXT,
		top_score    REAL,
		result_count INTEGER NOT NULL,
		latency_ms   INTEGER NOT NULL,
		session_id   TEXT NOT NULL DEFAULT '',
		user_id      TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_events_created_at ON search_events(created_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     TEXT NOT NULL,
		external_id TEXT NOT NULL,
		kind        TEXT NOT NULL,
		attempts    INTEGER NOT NULL,
		last_error  TEXT NOT NULL,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_external_id ON dead_letters(external_id);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// translateError maps driver failures into the error taxonomy at the
// store boundary.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return vitrineerrors.ConflictError(fmt.Sprintf("%s: duplicate identifier", op), err)
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY"):
		return vitrineerrors.New(vitrineerrors.ErrCodeStoreBusy,
			fmt.Sprintf("%s: database is busy", op), err)
	default:
		return vitrineerrors.StoreError(fmt.Sprintf("%s failed", op), err)
	}
}

// ValidateItem checks required fields and limits. It runs before any
// write so a malformed item never reaches the database.
func ValidateItem(item *Item) error {
	if item == nil {
		return vitrineerrors.ValidationError("item must not be nil", nil)
	}
	if strings.TrimSpace(item.ExternalID) == "" {
		return vitrineerrors.ValidationError("external_id is required", nil)
	}
	if len(item.ExternalID) > MaxExternalIDLen {
		return vitrineerrors.ValidationError(
			fmt.Sprintf("external_id exceeds %d bytes", MaxExternalIDLen), nil)
	}
	if strings.TrimSpace(item.Title) == "" {
		return vitrineerrors.ValidationError("title is required", nil)
	}
	if len(item.Title) > MaxTitleLen {
		return vitrineerrors.ValidationError(
			fmt.Sprintf("title exceeds %d bytes", MaxTitleLen), nil)
	}
	if len(item.Category) > MaxCategoryLen {
		return vitrineerrors.ValidationError(
			fmt.Sprintf("category exceeds %d bytes", MaxCategoryLen), nil)
	}
	if len(item.Currency) > MaxCurrencyLen {
		return vitrineerrors.ValidationError(
			fmt.Sprintf("currency exceeds %d bytes", MaxCurrencyLen), nil)
	}
	if item.Price != nil && *item.Price < 0 {
		return vitrineerrors.ValidationError("price must not be negative", nil)
	}
	if item.AssetURL != "" {
		if len(item.AssetURL) > MaxAssetURLLen {
			return vitrineerrors.ValidationError(
				fmt.Sprintf("asset_url exceeds %d bytes", MaxAssetURLLen), nil)
		}
		if _, err := url.Parse(item.AssetURL); err != nil {
			return vitrineerrors.ValidationError("asset_url is not a valid URL", err)
		}
	}
	return item.Attributes.Validate()
}

// CreateItem inserts a new item and fills InternalID and timestamps.
func (s *SQLiteStore) CreateItem(ctx context.Context, item *Item) error {
	if err := ValidateItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("store is closed", nil)
	}

	attrs, err := encodeAttributes(item.Attributes)
	if err != nil {
		return vitrineerrors.StoreError("failed to encode attributes", err)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (external_id, title, description, category, price, currency, asset_url, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ExternalID, item.Title, item.Description, item.Category,
		nullablePrice(item.Price), item.Currency, item.AssetURL, attrs,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return vitrineerrors.ConflictError(
				fmt.Sprintf("item with external_id %q already exists", item.ExternalID), err)
		}
		return translateError("create item", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return translateError("create item", err)
	}
	item.InternalID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	item.Attributes = item.Attributes.Canonicalize()
	return nil
}

const itemColumns = `internal_id, external_id, title, description, category, price, currency, asset_url, attributes, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var (
		item      Item
		price     sql.NullFloat64
		attrs     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&item.InternalID, &item.ExternalID, &item.Title, &item.Description,
		&item.Category, &price, &item.Currency, &item.AssetURL, &attrs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		p := price.Float64
		item.Price = &p
	}
	decoded, err := decodeAttributes(attrs)
	if err != nil {
		return nil, err
	}
	item.Attributes = decoded
	item.CreatedAt = time.Unix(0, createdAt)
	item.UpdatedAt = time.Unix(0, updatedAt)
	return &item, nil
}

func nullablePrice(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// GetItemByInternalID fetches one item by its surrogate key.
func (s *SQLiteStore) GetItemByInternalID(ctx context.Context, internalID int64) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE internal_id = ?`, internalID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, vitrineerrors.NotFoundError(
			fmt.Sprintf("item with internal_id %d not found", internalID), nil)
	}
	if err != nil {
		return nil, translateError("get item", err)
	}
	return item, nil
}

// GetItemByExternalID fetches one item by its external identity.
func (s *SQLiteStore) GetItemByExternalID(ctx context.Context, externalID string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE external_id = ?`, externalID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, vitrineerrors.NotFoundError(
			fmt.Sprintf("item with external_id %q not found", externalID), nil)
	}
	if err != nil {
		return nil, translateError("get item", err)
	}
	return item, nil
}

// ListItems pages through items in InternalID order. The same offset
// and limit always produce the same page while the data is unchanged,
// which the reindex pass relies on.
func (s *SQLiteStore) ListItems(ctx context.Context, offset, limit int) ([]*Item, error) {
	if offset < 0 {
		return nil, vitrineerrors.ValidationError("offset must not be negative", nil)
	}
	if limit < 0 {
		return nil, vitrineerrors.ValidationError("limit must not be negative", nil)
	}
	if limit == 0 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY internal_id ASC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, translateError("list items", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, translateError("list items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("list items", err)
	}
	return items, nil
}

// ListItemsByCategory returns one category's items ordered by
// InternalID ascending, with the same offset and limit rules as
// ListItems.
func (s *SQLiteStore) ListItemsByCategory(ctx context.Context, category string, offset, limit int) ([]*Item, error) {
	if strings.TrimSpace(category) == "" {
		return nil, vitrineerrors.ValidationError("category must not be empty", nil)
	}
	if offset < 0 {
		return nil, vitrineerrors.ValidationError("offset must not be negative", nil)
	}
	if limit < 0 {
		return nil, vitrineerrors.ValidationError("limit must not be negative", nil)
	}
	if limit == 0 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE category = ? ORDER BY internal_id ASC LIMIT ? OFFSET ?`,
		category, limit, offset)
	if err != nil {
		return nil, translateError("list items by category", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, translateError("list items by category", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("list items by category", err)
	}
	return items, nil
}

// CountItems returns the total number of items.
func (s *SQLiteStore) CountItems(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, vitrineerrors.StoreError("store is closed", nil)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		return 0, translateError("count items", err)
	}
	return count, nil
}

// CategoryCounts returns the largest categories, most populous first.
func (s *SQLiteStore) CategoryCounts(ctx context.Context, limit int) ([]CategoryCount, error) {
	if limit <= 0 {
		limit = s.config.DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS n FROM items
		GROUP BY category ORDER BY n DESC, category ASC LIMIT ?`, limit)
	if err != nil {
		return nil, translateError("category counts", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, translateError("category counts", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// UpdateItem applies a partial update inside one transaction and
// refreshes UpdatedAt. ExternalID and InternalID are immutable.
func (s *SQLiteStore) UpdateItem(ctx context.Context, internalID int64, patch ItemPatch) (*Item, error) {
	if patch.IsZero() {
		return nil, vitrineerrors.ValidationError("patch contains no settable fields", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translateError("update item", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE internal_id = ?`, internalID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, vitrineerrors.NotFoundError(
			fmt.Sprintf("item with internal_id %d not found", internalID), nil)
	}
	if err != nil {
		return nil, translateError("update item", err)
	}

	if patch.Title != nil {
		item.Title = *patch.Title
	}
	if patch.Description != nil {
		item.Description = *patch.Description
	}
	if patch.Category != nil {
		item.Category = *patch.Category
	}
	if patch.Price != nil {
		item.Price = patch.Price
	}
	if patch.Currency != nil {
		item.Currency = *patch.Currency
	}
	if patch.AssetURL != nil {
		item.AssetURL = *patch.AssetURL
	}
	if patch.Attributes != nil {
		item.Attributes = *patch.Attributes
	}
	if err := ValidateItem(item); err != nil {
		return nil, err
	}

	attrs, err := encodeAttributes(item.Attributes)
	if err != nil {
		return nil, vitrineerrors.StoreError("failed to encode attributes", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE items SET title = ?, description = ?, category = ?, price = ?,
			currency = ?, asset_url = ?, attributes = ?, updated_at = ?
		WHERE internal_id = ?`,
		item.Title, item.Description, item.Category, nullablePrice(item.Price),
		item.Currency, item.AssetURL, attrs, now.UnixNano(), internalID)
	if err != nil {
		return nil, translateError("update item", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError("update item", err)
	}

	item.UpdatedAt = now
	item.Attributes = item.Attributes.Canonicalize()
	return item, nil
}

// DeleteItem removes the row permanently. Callers schedule the
// compensating vector delete themselves.
func (s *SQLiteStore) DeleteItem(ctx context.Context, internalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE internal_id = ?`, internalID)
	if err != nil {
		return translateError("delete item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return translateError("delete item", err)
	}
	if affected == 0 {
		return vitrineerrors.NotFoundError(
			fmt.Sprintf("item with internal_id %d not found", internalID), nil)
	}
	return nil
}

// LogSearch appends one event to the search log.
func (s *SQLiteStore) LogSearch(ctx context.Context, event *SearchEvent) error {
	if event == nil {
		return vitrineerrors.ValidationError("search event must not be nil", nil)
	}
	switch event.QueryKind {
	case QueryKindText, QueryKindImage, QueryKindSimilar:
	default:
		return vitrineerrors.ValidationError(
			fmt.Sprintf("unknown query kind %q", event.QueryKind), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("store is closed", nil)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	var refID any
	if event.ReferenceID != "" {
		refID = event.ReferenceID
	}
	var topScore any
	if event.TopScore != nil {
		topScore = *event.TopScore
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO search_events (query_kind, query_text, reference_id, top_score, result_count, latency_ms, session_id, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.QueryKind, event.QueryText, refID, topScore, event.ResultCount,
		event.LatencyMS, event.SessionID, event.UserID, event.CreatedAt.UnixNano())
	if err != nil {
		return translateError("log search", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// ListSearchEvents returns recent events, newest first.
func (s *SQLiteStore) ListSearchEvents(ctx context.Context, limit int) ([]*SearchEvent, error) {
	if limit <= 0 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query_kind, query_text, reference_id, top_score, result_count, latency_ms, session_id, user_id, created_at
		FROM search_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, translateError("list search events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*SearchEvent
	for rows.Next() {
		var (
			ev        SearchEvent
			refID     sql.NullString
			topScore  sql.NullFloat64
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.QueryKind, &ev.QueryText, &refID, &topScore,
			&ev.ResultCount, &ev.LatencyMS, &ev.SessionID, &ev.UserID, &createdAt); err != nil {
			return nil, translateError("list search events", err)
		}
		if refID.Valid {
			ev.ReferenceID = refID.String
		}
		if topScore.Valid {
			score := topScore.Float64
			ev.TopScore = &score
		}
		ev.CreatedAt = time.Unix(0, createdAt)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// GetSearchEventStats aggregates the search log at or after since.
// A zero since covers the whole log.
func (s *SQLiteStore) GetSearchEventStats(ctx context.Context, since time.Time) (*SearchEventStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	var cutoff int64
	if !since.IsZero() {
		cutoff = since.UnixNano()
	}

	stats := &SearchEventStats{ByKind: make(map[string]int)}

	var avgLatency, avgResults sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       AVG(latency_ms),
		       AVG(result_count),
		       COALESCE(SUM(CASE WHEN result_count = 0 THEN 1 ELSE 0 END), 0)
		FROM search_events WHERE created_at >= ?`, cutoff).
		Scan(&stats.TotalSearches, &avgLatency, &avgResults, &stats.ZeroResultSearches)
	if err != nil {
		return nil, translateError("search event stats", err)
	}
	stats.AvgLatencyMS = avgLatency.Float64
	stats.AvgResultCount = avgResults.Float64

	rows, err := s.db.QueryContext(ctx, `
		SELECT query_kind, COUNT(*) FROM search_events
		WHERE created_at >= ? GROUP BY query_kind`, cutoff)
	if err != nil {
		return nil, translateError("search event stats", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, translateError("search event stats", err)
		}
		stats.ByKind[kind] = count
	}
	return stats, rows.Err()
}

// SaveDeadLetter records an exhausted unit of work.
func (s *SQLiteStore) SaveDeadLetter(ctx context.Context, dl *DeadLetter) error {
	if dl == nil {
		return vitrineerrors.ValidationError("dead letter must not be nil", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("store is closed", nil)
	}

	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (task_id, external_id, kind, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		dl.TaskID, dl.ExternalID, dl.Kind, dl.Attempts, dl.LastError, dl.CreatedAt.UnixNano())
	if err != nil {
		return translateError("save dead letter", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		dl.ID = id
	}
	return nil
}

// ListDeadLetters returns dead letters, newest first.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, external_id, kind, attempts, last_error, created_at
		FROM dead_letters ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, translateError("list dead letters", err)
	}
	defer func() { _ = rows.Close() }()

	var letters []*DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, translateError("list dead letters", err)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

// GetDeadLetter fetches one dead letter by id.
func (s *SQLiteStore) GetDeadLetter(ctx context.Context, id int64) (*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, vitrineerrors.StoreError("store is closed", nil)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, external_id, kind, attempts, last_error, created_at
		FROM dead_letters WHERE id = ?`, id)
	dl, err := scanDeadLetter(row)
	if err == sql.ErrNoRows {
		return nil, vitrineerrors.NotFoundError(
			fmt.Sprintf("dead letter %d not found", id), nil)
	}
	if err != nil {
		return nil, translateError("get dead letter", err)
	}
	return dl, nil
}

func scanDeadLetter(row interface{ Scan(...any) error }) (*DeadLetter, error) {
	var dl DeadLetter
	var createdAt int64
	err := row.Scan(&dl.ID, &dl.TaskID, &dl.ExternalID, &dl.Kind, &dl.Attempts, &dl.LastError, &createdAt)
	if err != nil {
		return nil, err
	}
	dl.CreatedAt = time.Unix(0, createdAt)
	return &dl, nil
}

// DeleteDeadLetter removes a dead letter, typically after a requeue.
func (s *SQLiteStore) DeleteDeadLetter(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vitrineerrors.StoreError("store is closed", nil)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	if err != nil {
		return translateError("delete dead letter", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return translateError("delete dead letter", err)
	}
	if affected == 0 {
		return vitrineerrors.NotFoundError(
			fmt.Sprintf("dead letter %d not found", id), nil)
	}
	return nil
}

// CountDeadLetters returns the total number of dead letters.
func (s *SQLiteStore) CountDeadLetters(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, vitrineerrors.StoreError("store is closed", nil)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&count); err != nil {
		return 0, translateError("count dead letters", err)
	}
	return count, nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
