package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"ecoroute/internal/hotspot"
	"ecoroute/internal/opt"
)

// Dialect selects driver-specific SQL.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() (string, error) {
	switch d {
	case Postgres:
		return "pgx", nil
	case SQLite:
		return "sqlite", nil
	}
	return "", fmt.Errorf("catalog: unsupported dialect %q", d)
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS generations (
		id TEXT PRIMARY KEY,
		created_at_ns BIGINT NOT NULL,
		params TEXT NOT NULL,
		observation_count INTEGER NOT NULL,
		noise_count INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hotspots (
		id TEXT PRIMARY KEY,
		generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		severity DOUBLE PRECISION NOT NULL,
		volume_kg DOUBLE PRECISION NOT NULL,
		member_count INTEGER NOT NULL,
		risk_level TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS hotspots_generation_idx ON hotspots (generation_id, seq)`,
	`CREATE TABLE IF NOT EXISTS session_pins (
		session_id TEXT PRIMARY KEY,
		generation_id TEXT NOT NULL REFERENCES generations(id) ON DELETE CASCADE,
		hotspot_ids TEXT NOT NULL,
		updated_at_ns BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		generation_id TEXT NOT NULL,
		generated_at_ns BIGINT NOT NULL,
		report TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS plans_generation_idx ON plans (generation_id, generated_at_ns)`,
}

// SQL is a database/sql backed catalog for postgres (pgx) or sqlite.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQL opens, verifies and migrates a catalog database.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// one writer; avoids SQLITE_BUSY under concurrent requests
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	s := &SQL{db: db, dialect: dialect, now: time.Now}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: verify %s connection: %w", dialect, err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	if s.dialect == SQLite {
		if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return fmt.Errorf("catalog: enable foreign keys: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQL) exec(ctx context.Context, tx *sql.Tx, q string, args ...any) error {
	_, err := tx.ExecContext(ctx, s.dialect.rebind(q), args...)
	return err
}

func (s *SQL) SaveGeneration(ctx context.Context, g Generation) error {
	if g.ID == "" {
		return fmt.Errorf("catalog: generation id is required")
	}
	params, err := json.Marshal(g.Params)
	if err != nil {
		return fmt.Errorf("catalog: encode params: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.exec(ctx, tx, `DELETE FROM hotspots WHERE generation_id = ?`, g.ID); err != nil {
		return fmt.Errorf("catalog: save generation: %w", err)
	}
	err = s.exec(ctx, tx, `INSERT INTO generations (id, created_at_ns, params, observation_count, noise_count) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET created_at_ns = excluded.created_at_ns, params = excluded.params,
		observation_count = excluded.observation_count, noise_count = excluded.noise_count`,
		g.ID, g.CreatedAt.UnixNano(), string(params), g.ObservationCount, g.NoiseCount)
	if err != nil {
		return fmt.Errorf("catalog: save generation: %w", err)
	}
	for i, h := range g.Hotspots {
		err = s.exec(ctx, tx, `INSERT INTO hotspots (id, generation_id, seq, lat, lon, severity, volume_kg, member_count, risk_level) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, g.ID, i, h.Centroid.Lat, h.Centroid.Lon, h.SeverityScore, h.EstimatedVolumeKg, h.MemberCount, string(h.RiskLevel))
		if err != nil {
			return fmt.Errorf("catalog: save hotspot %s: %w", h.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) Generation(ctx context.Context, id string) (Generation, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT id, created_at_ns, params, observation_count, noise_count FROM generations WHERE id = ?`), id)
	return s.loadGeneration(ctx, row)
}

func (s *SQL) CurrentGeneration(ctx context.Context) (Generation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, created_at_ns, params, observation_count, noise_count FROM generations ORDER BY created_at_ns DESC, id DESC LIMIT 1`)
	return s.loadGeneration(ctx, row)
}

func (s *SQL) loadGeneration(ctx context.Context, row *sql.Row) (Generation, error) {
	var (
		g      Generation
		ns     int64
		params string
	)
	if err := row.Scan(&g.ID, &ns, &params, &g.ObservationCount, &g.NoiseCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Generation{}, ErrNotFound
		}
		return Generation{}, err
	}
	g.CreatedAt = time.Unix(0, ns).UTC()
	if err := json.Unmarshal([]byte(params), &g.Params); err != nil {
		return Generation{}, fmt.Errorf("catalog: decode params: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT id, lat, lon, severity, volume_kg, member_count, risk_level FROM hotspots WHERE generation_id = ? ORDER BY seq`), g.ID)
	if err != nil {
		return Generation{}, err
	}
	defer rows.Close()
	g.Hotspots = []hotspot.Hotspot{}
	for rows.Next() {
		h := hotspot.Hotspot{GenerationID: g.ID}
		var level string
		if err := rows.Scan(&h.ID, &h.Centroid.Lat, &h.Centroid.Lon, &h.SeverityScore, &h.EstimatedVolumeKg, &h.MemberCount, &level); err != nil {
			return Generation{}, err
		}
		h.RiskLevel = hotspot.RiskLevel(level)
		g.Hotspots = append(g.Hotspots, h)
	}
	return g, rows.Err()
}

func (s *SQL) ListGenerations(ctx context.Context, limit int) ([]GenerationInfo, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT g.id, g.created_at_ns, g.observation_count, g.noise_count,
		(SELECT COUNT(*) FROM hotspots h WHERE h.generation_id = g.id)
		FROM generations g ORDER BY g.created_at_ns DESC, g.id DESC LIMIT ?`), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []GenerationInfo{}
	for rows.Next() {
		var (
			gi GenerationInfo
			ns int64
		)
		if err := rows.Scan(&gi.ID, &ns, &gi.ObservationCount, &gi.NoiseCount, &gi.HotspotCount); err != nil {
			return nil, err
		}
		gi.CreatedAt = time.Unix(0, ns).UTC()
		out = append(out, gi)
	}
	return out, rows.Err()
}

func (s *SQL) SetPins(ctx context.Context, sessionID, generationID string, hotspotIDs []string) (Pins, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT 1 FROM generations WHERE id = ?`), generationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Pins{}, ErrNotFound
	}
	if err != nil {
		return Pins{}, err
	}
	p := Pins{SessionID: sessionID, GenerationID: generationID, HotspotIDs: hotspotIDs, UpdatedAt: s.now().UTC()}.clone()
	ids, err := json.Marshal(p.HotspotIDs)
	if err != nil {
		return Pins{}, err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO session_pins (session_id, generation_id, hotspot_ids, updated_at_ns) VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET generation_id = excluded.generation_id, hotspot_ids = excluded.hotspot_ids, updated_at_ns = excluded.updated_at_ns`),
		sessionID, generationID, string(ids), p.UpdatedAt.UnixNano())
	if err != nil {
		return Pins{}, fmt.Errorf("catalog: save pins: %w", err)
	}
	return p, nil
}

func (s *SQL) Pins(ctx context.Context, sessionID string) (Pins, error) {
	var (
		p   = Pins{SessionID: sessionID}
		ids string
		ns  int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT generation_id, hotspot_ids, updated_at_ns FROM session_pins WHERE session_id = ?`), sessionID).Scan(&p.GenerationID, &ids, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Pins{}, ErrNotFound
	}
	if err != nil {
		return Pins{}, err
	}
	if err := json.Unmarshal([]byte(ids), &p.HotspotIDs); err != nil {
		return Pins{}, fmt.Errorf("catalog: decode pins: %w", err)
	}
	p.UpdatedAt = time.Unix(0, ns).UTC()
	return p.clone(), nil
}

func (s *SQL) SavePlan(ctx context.Context, rep opt.Report) error {
	if rep.Plan.ID == "" {
		return fmt.Errorf("catalog: plan id is required")
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("catalog: encode plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`INSERT INTO plans (id, generation_id, generated_at_ns, report) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET report = excluded.report`),
		rep.Plan.ID, rep.Plan.GenerationID, rep.Plan.GeneratedAt.UnixNano(), string(body))
	if err != nil {
		return fmt.Errorf("catalog: save plan: %w", err)
	}
	return nil
}

func (s *SQL) GetPlan(ctx context.Context, id string) (opt.Report, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT report FROM plans WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return opt.Report{}, ErrNotFound
	}
	if err != nil {
		return opt.Report{}, err
	}
	var rep opt.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return opt.Report{}, fmt.Errorf("catalog: decode plan %s: %w", id, err)
	}
	return rep, nil
}

func (s *SQL) ListPlans(ctx context.Context, generationID string, limit int) ([]opt.Report, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if generationID != "" {
		rows, err = s.db.QueryContext(ctx, s.dialect.rebind(`SELECT report FROM plans WHERE generation_id = ? ORDER BY generated_at_ns DESC, id DESC LIMIT ?`), generationID, clampLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx, s.dialect.rebind(`SELECT report FROM plans ORDER BY generated_at_ns DESC, id DESC LIMIT ?`), clampLimit(limit))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Report{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rep opt.Report
		if err := json.Unmarshal([]byte(body), &rep); err != nil {
			return nil, fmt.Errorf("catalog: decode plan: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQL) Close() error { return s.db.Close() }
