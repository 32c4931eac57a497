// Package history keeps embeddings of past campaign content in SQLite and
// answers similarity searches over them.
package history

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultTopK is how many past posts research asks for.
	DefaultTopK = 5

	maxStoredText = 1000
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PastContent is one stored post returned by Search.
type PastContent struct {
	ID         string
	Text       string
	Platform   string
	Engagement int
	Score      float64
}

// Store is a similarity store over past campaign content. It initialises in
// the background; until ready, Search returns nothing and Store is skipped.
type Store struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger

	startOnce sync.Once
	ready     atomic.Bool
	done      chan struct{}
}

// New creates a store on db. Call Start to initialise it.
func New(db *sql.DB, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start kicks off schema creation in the background. Repeated calls are
// no-ops.
func (s *Store) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.done)
			if err := s.init(ctx); err != nil {
				s.logger.Error("Failed to initialize content history", "error", err)
				return
			}
			s.ready.Store(true)
			s.logger.Info("Content history ready")
		}()
	})
}

// Wait blocks until background initialisation finishes or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the store is usable.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

func (s *Store) init(ctx context.Context) error {
	if s.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}
	query := `
	CREATE TABLE IF NOT EXISTS content_history (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		text TEXT NOT NULL,
		engagement INTEGER NOT NULL DEFAULT 0,
		embedding BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create content_history: %w", err)
	}
	return nil
}

// Search returns up to k stored posts most similar to query.
func (s *Store) Search(ctx context.Context, query string, k int) ([]PastContent, error) {
	s.Start(context.Background())
	if !s.Ready() {
		s.logger.Info("Content history still loading, skipping search")
		return nil, nil
	}
	if k <= 0 {
		k = DefaultTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, platform, engagement, embedding FROM content_history`)
	if err != nil {
		return nil, fmt.Errorf("query content_history: %w", err)
	}
	defer rows.Close()

	var matches []PastContent
	for rows.Next() {
		var pc PastContent
		var blob []byte
		if err := rows.Scan(&pc.ID, &pc.Text, &pc.Platform, &pc.Engagement, &blob); err != nil {
			return nil, fmt.Errorf("scan content_history row: %w", err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("Skipping corrupt embedding", "id", pc.ID, "error", err)
			continue
		}
		if len(stored) != len(vec) {
			continue
		}
		pc.Score = cosineSimilarity(vec, stored)
		matches = append(matches, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content_history: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Store embeds text and records it as content of campaignID for platform.
// The record id is <campaign>_<platform>, so re-storing replaces it.
func (s *Store) Store(ctx context.Context, campaignID, platform, text string) error {
	s.Start(context.Background())
	if !s.Ready() {
		s.logger.Info("Content history still loading, skipping store", "campaign_id", campaignID)
		return nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	blob, err := encodeVector(vec)
	if err != nil {
		return err
	}

	if r := []rune(text); len(r) > maxStoredText {
		text = string(r[:maxStoredText])
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO content_history (id, campaign_id, platform, text, engagement, embedding, created_at)
	VALUES (?, ?, ?, ?, 0, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		embedding = excluded.embedding,
		created_at = excluded.created_at`,
		campaignID+"_"+platform, campaignID, platform, text, blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store content: %w", err)
	}
	return nil
}

func encodeVector(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return vec, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
