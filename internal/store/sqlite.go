package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 100 * time.Millisecond
)

// OpenDB opens a SQLite database at dbPath in WAL mode, creating its
// directory when needed. ":memory:" is passed through.
func OpenDB(dbPath string) (*sql.DB, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS campaigns (
		campaign_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		status TEXT NOT NULL,
		result_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_updated ON campaigns(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save stores result, retrying on SQLITE_BUSY.
func (s *SQLiteStore) Save(ctx context.Context, result domain.CampaignResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal campaign result: %w", err)
	}

	query := `
	INSERT INTO campaigns (campaign_id, topic, status, result_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(campaign_id) DO UPDATE SET
		topic = excluded.topic,
		status = excluded.status,
		result_json = excluded.result_json,
		updated_at = excluded.updated_at`

	now := time.Now().UnixNano()
	err = shared.RetryOnConflict(ctx, "save campaign", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			result.CampaignID, result.Topic, string(result.Status), string(payload), now, now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save campaign %s: %w", result.CampaignID, err)
	}
	return nil
}

// Load retrieves a campaign result by id.
func (s *SQLiteStore) Load(ctx context.Context, id domain.CampaignID) (*domain.CampaignResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT result_json FROM campaigns WHERE campaign_id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}

	var result domain.CampaignResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("decode campaign %s: %w", id, err)
	}
	return &result, nil
}

// ListRecent returns the most recently saved results first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]domain.CampaignResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, result_json FROM campaigns ORDER BY updated_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close campaign rows", "error", closeErr)
		}
	}()

	results := make([]domain.CampaignResult, 0)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan campaign row: %w", err)
		}
		var result domain.CampaignResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			slog.Warn("Skipping undecodable campaign", "campaign_id", id, "error", err)
			continue
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return results, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
