package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/pitchtrack/internal/config"
	"github.com/your-org/pitchtrack/internal/models"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Streams ---

const streamColumns = `id, name, url, stream_type, fps, status, error_message, created_at, updated_at`

func scanStream(row pgx.Row, st *models.Stream) error {
	return row.Scan(&st.ID, &st.Name, &st.URL, &st.StreamType, &st.FPS, &st.Status,
		&st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt)
}

func (s *PostgresStore) CreateStream(ctx context.Context, st *models.Stream) error {
	st.ID = uuid.New()
	st.Status = models.StreamStatusStopped
	return s.pool.QueryRow(ctx,
		`INSERT INTO streams (id, name, url, stream_type, fps, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		st.ID, st.Name, st.URL, st.StreamType, st.FPS, st.Status,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
}

// GetStream returns nil, nil when the stream does not exist.
func (s *PostgresStore) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st := &models.Stream{}
	err := scanStream(s.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id), st)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+streamColumns+` FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var st models.Stream
		if err := scanStream(rows, &st); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

func (s *PostgresStore) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, error_message = $2 WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update stream status: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteStream(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Detections ---

const detectionColumns = `id, stream_id, frame_seq, frame, ord, track_id, team, x1, y1, x2, y2, feature, confidence, frame_ref, created_at`

func scanDetection(row pgx.Row, d *models.Detection) error {
	var vec pgvector.Vector
	if err := row.Scan(&d.ID, &d.StreamID, &d.FrameSeq, &d.Frame, &d.Index, &d.TrackID, &d.Team,
		&d.X1, &d.Y1, &d.X2, &d.Y2, &vec, &d.Confidence, &d.FrameRef, &d.CreatedAt); err != nil {
		return err
	}
	copy(d.Feature[:], vec.Slice())
	return nil
}

// InsertDetections stores one frame's players in a single batch.
func (s *PostgresStore) InsertDetections(ctx context.Context, dets []models.Detection) error {
	if len(dets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range dets {
		d := &dets[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		batch.Queue(
			`INSERT INTO detections (id, stream_id, frame_seq, frame, ord, track_id, team, x1, y1, x2, y2, feature, confidence, frame_ref)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			d.ID, d.StreamID, d.FrameSeq, d.Frame, d.Index, d.TrackID, d.Team,
			d.X1, d.Y1, d.X2, d.Y2, pgvector.NewVector(d.Feature[:]), d.Confidence, d.FrameRef)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert detections: %w", err)
	}
	return nil
}

func detectionWhere(streamID uuid.UUID, f models.DetectionFilter) (string, []interface{}) {
	where := []string{"stream_id = $1"}
	args := []interface{}{streamID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.FromFrame != nil {
		add("frame >= $%d", *f.FromFrame)
	}
	if f.ToFrame != nil {
		add("frame <= $%d", *f.ToFrame)
	}
	if f.Team != nil {
		add("team = $%d", *f.Team)
	}
	if f.TrackID != nil {
		add("track_id = $%d", *f.TrackID)
	}
	return "WHERE " + strings.Join(where, " AND "), args
}

// QueryDetections returns one page of detections in frame order and the total
// number matching the filter.
func (s *PostgresStore) QueryDetections(ctx context.Context, streamID uuid.UUID, f models.DetectionFilter) ([]models.Detection, int, error) {
	f.ClampPage()
	where, args := detectionWhere(streamID, f)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detections "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM detections %s ORDER BY frame_seq, ord LIMIT $%d OFFSET $%d`,
		detectionColumns, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []models.Detection
	for rows.Next() {
		var d models.Detection
		if err := scanDetection(rows, &d); err != nil {
			return nil, 0, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// EachDetection streams every detection of a stream in output order.
func (s *PostgresStore) EachDetection(ctx context.Context, streamID uuid.UUID, fn func(models.Detection) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE stream_id = $1 ORDER BY frame_seq, ord`, streamID)
	if err != nil {
		return fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d models.Detection
		if err := scanDetection(rows, &d); err != nil {
			return fmt.Errorf("scan detection: %w", err)
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SearchByColor ranks detections by Euclidean distance between their jersey
// color and feature.
func (s *PostgresStore) SearchByColor(ctx context.Context, streamID uuid.UUID, feature [3]float32, team *int, limit int) ([]models.ColorMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(feature[:])

	query := `SELECT ` + detectionColumns + `, feature <-> $2 AS distance
		FROM detections WHERE stream_id = $1`
	args := []interface{}{streamID, vec}
	if team != nil {
		args = append(args, *team)
		query += fmt.Sprintf(" AND team = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY feature <-> $2 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search detections: %w", err)
	}
	defer rows.Close()

	var matches []models.ColorMatch
	for rows.Next() {
		var m models.ColorMatch
		var fv pgvector.Vector
		d := &m.Detection
		if err := rows.Scan(&d.ID, &d.StreamID, &d.FrameSeq, &d.Frame, &d.Index, &d.TrackID, &d.Team,
			&d.X1, &d.Y1, &d.X2, &d.Y2, &fv, &d.Confidence, &d.FrameRef, &d.CreatedAt, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan color match: %w", err)
		}
		copy(d.Feature[:], fv.Slice())
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DetectionStats aggregates stored detections of a stream.
func (s *PostgresStore) DetectionStats(ctx context.Context, streamID uuid.UUID) (*models.DetectionStats, error) {
	st := &models.DetectionStats{}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT frame), COUNT(*), COUNT(DISTINCT track_id),
		        COUNT(*) FILTER (WHERE team = 0), COUNT(*) FILTER (WHERE team = 1)
		 FROM detections WHERE stream_id = $1`, streamID,
	).Scan(&st.Frames, &st.Detections, &st.Tracks, &st.TeamCounts[0], &st.TeamCounts[1])
	if err != nil {
		return nil, fmt.Errorf("detection stats: %w", err)
	}
	return st, nil
}

// DeleteDetections removes everything stored for a stream, used when a
// stream is restarted from the beginning.
func (s *PostgresStore) DeleteDetections(ctx context.Context, streamID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM detections WHERE stream_id = $1`, streamID)
	if err != nil {
		return 0, fmt.Errorf("delete detections: %w", err)
	}
	return tag.RowsAffected(), nil
}
