package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/ragol/internal/events"
	"github.com/energizer-project/ragol/internal/msg"
)

// Capture is one stored frame.
type Capture struct {
	ID         int64            `json:"id"`
	Session    string           `json:"session"`
	Direction  events.Direction `json:"direction"`
	Variant    string           `json:"variant"`
	Code       uint8            `json:"code"`
	Flags      uint8            `json:"flags"`
	Name       string           `json:"name"`
	Size       int              `json:"size"`
	Body       []byte           `json:"body,omitempty"`
	Summary    msg.Summary      `json:"summary"`
	CapturedAt time.Time        `json:"captured_at"`
}

// CodeCount is a per-opcode frame tally.
type CodeCount struct {
	Code  uint8  `json:"code"`
	Name  string `json:"name"`
	Count int64  `json:"count"`
	Bytes int64  `json:"bytes"`
}

// CaptureStore records relayed frames.
type CaptureStore struct {
	db          *Database
	storeBodies bool
	logger      zerolog.Logger
}

// NewCaptureStore opens the store at dbPath and applies the schema. With
// storeBodies unset only the header and summary of each frame are kept.
func NewCaptureStore(dbPath string, storeBodies bool) (*CaptureStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &CaptureStore{
		db:          database,
		storeBodies: storeBodies,
		logger:      log.With().Str("component", "captures").Logger(),
	}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate capture database: %w", err)
	}
	return s, nil
}

func (s *CaptureStore) migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			direction TEXT NOT NULL,
			variant TEXT NOT NULL,
			code INTEGER NOT NULL,
			flags INTEGER NOT NULL,
			name TEXT NOT NULL,
			size INTEGER NOT NULL,
			body BLOB,
			summary TEXT NOT NULL,
			captured_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_frames_session ON frames(session);
		CREATE INDEX IF NOT EXISTS idx_frames_code ON frames(code);
		CREATE INDEX IF NOT EXISTS idx_frames_captured_at ON frames(captured_at);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close closes the underlying database.
func (s *CaptureStore) Close() error {
	return s.db.Close()
}

// Insert stores c and returns its row id.
func (s *CaptureStore) Insert(ctx context.Context, c Capture) (int64, error) {
	summary, err := json.Marshal(c.Summary)
	if err != nil {
		return 0, fmt.Errorf("failed to encode summary: %w", err)
	}
	var body []byte
	if s.storeBodies {
		body = c.Body
	}
	if c.CapturedAt.IsZero() {
		c.CapturedAt = time.Now()
	}

	res, err := s.db.Exec(ctx, `
		INSERT INTO frames (session, direction, variant, code, flags, name, size, body, summary, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Session, string(c.Direction), c.Variant, c.Code, c.Flags, c.Name, c.Size, body,
		string(summary), c.CapturedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert capture: %w", err)
	}
	return res.LastInsertId()
}

// Filter narrows Recent. Zero fields match everything.
type Filter struct {
	Session string
	Code    *uint8
}

// Recent returns up to limit captures, newest first.
func (s *CaptureStore) Recent(ctx context.Context, limit int, f Filter) ([]Capture, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, session, direction, variant, code, flags, name, size, body, summary, captured_at
		FROM frames WHERE 1=1`
	var args []any
	if f.Session != "" {
		query += " AND session = ?"
		args = append(args, f.Session)
	}
	if f.Code != nil {
		query += " AND code = ?"
		args = append(args, *f.Code)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCapture(rows *sql.Rows) (Capture, error) {
	var (
		c         Capture
		direction string
		summary   string
		at        int64
	)
	if err := rows.Scan(&c.ID, &c.Session, &direction, &c.Variant, &c.Code, &c.Flags,
		&c.Name, &c.Size, &c.Body, &summary, &at); err != nil {
		return Capture{}, fmt.Errorf("failed to scan capture: %w", err)
	}
	c.Direction = events.Direction(direction)
	c.CapturedAt = time.Unix(0, at).UTC()
	if err := json.Unmarshal([]byte(summary), &c.Summary); err != nil {
		return Capture{}, fmt.Errorf("failed to decode summary of capture %d: %w", c.ID, err)
	}
	return c, nil
}

// CountByCode tallies stored frames per opcode, most frequent first.
func (s *CaptureStore) CountByCode(ctx context.Context) ([]CodeCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT code, MIN(name), COUNT(*), SUM(size)
		FROM frames GROUP BY code ORDER BY COUNT(*) DESC, code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count captures: %w", err)
	}
	defer rows.Close()

	var out []CodeCount
	for rows.Next() {
		var c CodeCount
		if err := rows.Scan(&c.Code, &c.Name, &c.Count, &c.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes captures older than before and returns how many went.
func (s *CaptureStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx, "DELETE FROM frames WHERE captured_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune captures: %w", err)
	}
	return res.RowsAffected()
}

// Subscribe stores every FrameCaptured event published on bus.
func (s *CaptureStore) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.FrameCaptured, "capture_store", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.FramePayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		_, err := s.Insert(ctx, Capture{
			Session:    e.Session,
			Direction:  p.Direction,
			Variant:    p.Variant,
			Code:       p.Code,
			Flags:      p.Flags,
			Name:       p.Summary.Name,
			Size:       p.Size,
			Body:       p.Body,
			Summary:    p.Summary,
			CapturedAt: e.Time,
		})
		return err
	})
	s.logger.Debug().Bool("store_bodies", s.storeBodies).Msg("capture store subscribed")
}
