package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haloframe/screenlogd/internal/logging"
	"github.com/haloframe/screenlogd/internal/phash"
)

var sqlLog = logging.L("sqlstore")

const frameColumns = `
	id, captured_at, deployment_id, window_title, app_name,
	image_ref, image_size_bytes, phash,
	has_text, has_activity,
	ocr_text, ocr_confidence, vision_summary, vision_status, embedding_status`

const schema = `
CREATE TABLE IF NOT EXISTS frames (
	id               TEXT PRIMARY KEY,
	captured_at      TEXT NOT NULL,
	deployment_id    TEXT NOT NULL DEFAULT '',
	window_title     TEXT,
	app_name         TEXT,
	image_ref        TEXT NOT NULL,
	image_size_bytes INTEGER NOT NULL DEFAULT 0,
	phash            INTEGER NOT NULL,
	phash_prefix     INTEGER NOT NULL,
	has_text         INTEGER NOT NULL DEFAULT 0,
	has_activity     INTEGER NOT NULL DEFAULT 0,
	ocr_text         TEXT,
	ocr_confidence   REAL,
	vision_summary   TEXT,
	vision_status    INTEGER NOT NULL DEFAULT 0,
	embedding_status INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_frames_captured_at ON frames(captured_at);
CREATE INDEX IF NOT EXISTS idx_frames_phash_prefix ON frames(phash_prefix, captured_at);
CREATE INDEX IF NOT EXISTS idx_frames_app_name ON frames(app_name);

CREATE TABLE IF NOT EXISTS window_context (
	frame_id     TEXT NOT NULL,
	app_name     TEXT NOT NULL,
	window_title TEXT NOT NULL,
	process_name TEXT,
	is_focused   INTEGER NOT NULL DEFAULT 0,
	url          TEXT,
	FOREIGN KEY(frame_id) REFERENCES frames(id)
);
`

// SQLStore is the reference Storage implementation, backed by
// modernc.org/sqlite through database/sql. It keeps a short in-memory
// ring of recent (phash_prefix, phash, id) tuples so IsDuplicate doesn't
// need to scan the frames table on every capture.
type SQLStore struct {
	db    *sql.DB
	mu    sync.Mutex // serializes InsertFrame (row insert plus cache update)
	cache *phashCache
}

// OpenSQLStore opens (creating if necessary) a SQLite database at dsn and
// ensures its schema exists.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: apply schema: %w", err)
	}

	sqlLog.Info("sqlite store ready", "dsn", dsn)
	return &SQLStore{db: db, cache: newPHashCache()}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func hashPrefix(frameHash int64) int16 {
	return int16((frameHash >> 48) & 0xFFFF)
}

func hammingDistance(a, b int64) int {
	return bits.OnesCount64(uint64(a ^ b))
}

func (s *SQLStore) IsDuplicate(ctx context.Context, frameHash int64, windowSecs int) (uuid.UUID, bool, error) {
	prefix := hashPrefix(frameHash)
	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)

	candidates, fromCache := s.cache.candidates(prefix, since)
	if !fromCache {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, phash FROM frames
			WHERE phash_prefix = ? AND captured_at >= ?
			ORDER BY captured_at DESC
			LIMIT 5000`, prefix, since.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("sqlstore: phash candidate query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var idStr string
			var candidateHash int64
			if err := rows.Scan(&idStr, &candidateHash); err != nil {
				return uuid.Nil, false, fmt.Errorf("sqlstore: scan candidate: %w", err)
			}
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			candidates = append(candidates, phashCandidate{id: id, phash: candidateHash})
		}
		if err := rows.Err(); err != nil {
			return uuid.Nil, false, fmt.Errorf("sqlstore: iterate candidates: %w", err)
		}
	}

	for _, c := range candidates {
		if hammingDistance(frameHash, c.phash) <= phash.DedupHammingThreshold {
			return c.id, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (s *SQLStore) InsertFrame(ctx context.Context, capturedAt time.Time, deploymentID, windowTitle, appName, imageRef string, imageSizeBytes, frameHash int64) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	prefix := hashPrefix(frameHash)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (id, captured_at, deployment_id, window_title, app_name,
			image_ref, image_size_bytes, phash, phash_prefix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), capturedAt.UTC().Format(time.RFC3339Nano), deploymentID,
		nullableString(windowTitle), nullableString(appName), imageRef, imageSizeBytes, frameHash, prefix)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sqlstore: insert frame: %w", err)
	}

	s.cache.add(prefix, phashCandidate{id: id, phash: frameHash}, capturedAt)
	sqlLog.Debug("frame inserted", "frameId", id.String())
	return id, nil
}

func (s *SQLStore) GetRecentFrames(ctx context.Context, limit, offset int) ([]FrameWithContext, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+frameColumns+" FROM frames ORDER BY captured_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get recent frames: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

func (s *SQLStore) SearchText(ctx context.Context, query string, limit int) ([]FrameWithContext, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+frameColumns+` FROM frames WHERE ocr_text LIKE ? ORDER BY captured_at DESC LIMIT ?`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search text: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

func (s *SQLStore) SearchByTime(ctx context.Context, start, end time.Time) ([]FrameWithContext, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+frameColumns+` FROM frames WHERE captured_at >= ? AND captured_at <= ? ORDER BY captured_at ASC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search by time: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

func (s *SQLStore) SearchByApp(ctx context.Context, appName string, limit int) ([]FrameWithContext, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+frameColumns+` FROM frames WHERE app_name = ? ORDER BY captured_at DESC LIMIT ?`,
		appName, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search by app: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

func (s *SQLStore) GetAppStats(ctx context.Context, start, end time.Time) ([]AppStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT app_name, COUNT(*), MIN(captured_at), MAX(captured_at)
		FROM frames
		WHERE app_name IS NOT NULL AND app_name != '' AND captured_at >= ? AND captured_at <= ?
		GROUP BY app_name`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get app stats: %w", err)
	}
	defer rows.Close()

	var out []AppStats
	for rows.Next() {
		var (
			stat           AppStats
			firstStr, last string
		)
		if err := rows.Scan(&stat.AppName, &stat.FrameCount, &firstStr, &last); err != nil {
			return nil, fmt.Errorf("sqlstore: scan app stats: %w", err)
		}
		stat.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstStr)
		stat.LastSeen, _ = time.Parse(time.RFC3339Nano, last)
		stat.TotalSeconds = int64(stat.LastSeen.Sub(stat.FirstSeen).Seconds())
		out = append(out, stat)
	}
	return out, rows.Err()
}

func (s *SQLStore) CleanupOldData(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM frames WHERE captured_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: cleanup old data: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLStore) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN has_text THEN 1 END), COALESCE(SUM(image_size_bytes), 0)
		FROM frames`)
	if err := row.Scan(&stats.TotalFrames, &stats.FramesWithOCR, &stats.TotalImageBytes); err != nil {
		return Stats{}, fmt.Errorf("sqlstore: get stats: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) SetFrameHasText(ctx context.Context, frameID uuid.UUID, hasText bool) error {
	_, err := s.db.ExecContext(ctx, "UPDATE frames SET has_text = ? WHERE id = ?", hasText, frameID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: set frame has_text: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertOCRText(ctx context.Context, frameID uuid.UUID, text string, confidence float32, language, bbox string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE frames SET ocr_text = ?, ocr_confidence = ?, has_text = 1 WHERE id = ?",
		text, confidence, frameID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: insert ocr text: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertWindowContext(ctx context.Context, frameID uuid.UUID, appName, windowTitle, processName string, isFocused bool, url string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin window context tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO window_context (frame_id, app_name, window_title, process_name, is_focused, url) VALUES (?, ?, ?, ?, ?, ?)",
		frameID.String(), appName, windowTitle, nullableString(processName), isFocused, nullableString(url)); err != nil {
		return fmt.Errorf("sqlstore: insert window context: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE frames SET app_name = ?, window_title = ? WHERE id = ?",
		appName, windowTitle, frameID.String()); err != nil {
		return fmt.Errorf("sqlstore: patch frame app/window: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) GetFramesPendingVision(ctx context.Context, limit int) ([]FrameWithContext, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+frameColumns+` FROM frames WHERE vision_status = ? ORDER BY captured_at ASC LIMIT ?`,
		int16(VisionPending), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get frames pending vision: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

func (s *SQLStore) UpdateVisionSummary(ctx context.Context, frameID uuid.UUID, summary string, status VisionStatus) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE frames SET vision_summary = ?, vision_status = ? WHERE id = ?",
		summary, int16(status), frameID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: update vision summary: %w", err)
	}
	return nil
}

func scanFrames(rows *sql.Rows) ([]FrameWithContext, error) {
	var out []FrameWithContext
	for rows.Next() {
		var (
			f                                            FrameWithContext
			idStr, capturedAtStr                         string
			windowTitle, appName, ocrText, visionSummary sql.NullString
			ocrConfidence                                sql.NullFloat64
			visionStatus, embeddingStatus                int16
		)
		if err := rows.Scan(&idStr, &capturedAtStr, &f.DeploymentID, &windowTitle, &appName,
			&f.ImageRef, &f.ImageSizeBytes, &f.PHash, &f.HasText, &f.HasActivity,
			&ocrText, &ocrConfidence, &visionSummary, &visionStatus, &embeddingStatus); err != nil {
			return nil, fmt.Errorf("sqlstore: scan frame row: %w", err)
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: parse frame id: %w", err)
		}
		f.ID = id
		f.CapturedAt, _ = time.Parse(time.RFC3339Nano, capturedAtStr)
		f.WindowTitle = windowTitle.String
		f.AppName = appName.String
		f.OCRText = ocrText.String
		f.OCRConfidence = float32(ocrConfidence.Float64)
		f.VisionSummary = visionSummary.String
		f.VisionStatus = VisionStatusFromInt16(visionStatus)
		f.EmbeddingStatus = EmbeddingStatusFromInt16(embeddingStatus)
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// phashCandidate is one row of the hash-prefix candidate cache.
type phashCandidate struct {
	id    uuid.UUID
	phash int64
}

// phashCache keeps recently inserted (phash_prefix, phash, id) tuples in
// memory, keyed by prefix, so IsDuplicate avoids a table scan on every
// call. Reads skip entries older than the requested window but do not
// remove them; each prefix keeps at most its 512 most recent entries.
type phashCache struct {
	mu    sync.Mutex
	byKey map[int16][]cacheEntry
}

type cacheEntry struct {
	candidate  phashCandidate
	insertedAt time.Time
}

func newPHashCache() *phashCache {
	return &phashCache{byKey: make(map[int16][]cacheEntry)}
}

// candidates returns cached candidates for prefix inserted at or after
// since. The second return value is false when the cache has never seen
// this prefix, signaling the caller to fall back to a database query (and
// thereby prime the cache via add on the next insert).
func (c *phashCache) candidates(prefix int16, since time.Time) ([]phashCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.byKey[prefix]
	if !ok {
		return nil, false
	}

	out := make([]phashCandidate, 0, len(entries))
	for _, e := range entries {
		if !e.insertedAt.Before(since) {
			out = append(out, e.candidate)
		}
	}
	return out, true
}

func (c *phashCache) add(prefix int16, candidate phashCandidate, insertedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byKey[prefix]
	entries = append(entries, cacheEntry{candidate: candidate, insertedAt: insertedAt})

	// Bound memory per prefix. IsDuplicate queries the DB only for prefixes
	// the cache has never seen, so an entry evicted here is no longer found
	// as a duplicate candidate.
	const maxEntriesPerPrefix = 512
	if len(entries) > maxEntriesPerPrefix {
		entries = entries[len(entries)-maxEntriesPerPrefix:]
	}
	c.byKey[prefix] = entries
}
