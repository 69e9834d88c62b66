package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/zombar/matchscheduler/models"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrPlayerNotFound is returned when updating a player that does not exist
var ErrPlayerNotFound = errors.New("player not found")

// ErrScheduleNotFound is returned when updating a schedule that does not exist
var ErrScheduleNotFound = errors.New("schedule not found")

// Config contains database configuration
type Config struct {
	Driver string
	DSN    string
}

// DB wraps database operations
type DB struct {
	db     *sql.DB
	driver string
}

// New creates a new database connection
func New(config Config) (*DB, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every new connection to :memory: is a fresh database
	if config.Driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{
		db:     db,
		driver: config.Driver,
	}

	// Run migrations based on driver type
	if config.Driver == "postgres" {
		if err := d.migratePostgres(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	} else {
		if err := d.migrate(); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return d, nil
}

// NewWithDB wraps an already opened connection without running migrations
func NewWithDB(conn *sql.DB, driver string) *DB {
	return &DB{db: conn, driver: driver}
}

// migrate runs database migrations
func (d *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS players (
		name TEXT PRIMARY KEY,
		summoner_name TEXT NOT NULL DEFAULT '',
		tag_line TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL DEFAULT '',
		primary_role TEXT NOT NULL DEFAULT '',
		secondary_role TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS extraction_schedules (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK(kind IN ('one_time', 'recurring')),
		config TEXT NOT NULL DEFAULT '{}',
		next_run_at TIMESTAMP NOT NULL,
		interval_hours REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_status ON extraction_schedules(status);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run_at ON extraction_schedules(next_run_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// DB returns the underlying database connection for metrics collection
func (d *DB) DB() *sql.DB {
	return d.db
}

// rebindQuery converts ? placeholders to $1, $2, etc. for PostgreSQL
func (d *DB) rebindQuery(query string) string {
	if d.driver != "postgres" {
		return query
	}

	var b strings.Builder
	paramNum := 1
	for _, char := range query {
		if char == '?' {
			fmt.Fprintf(&b, "$%d", paramNum)
			paramNum++
		} else {
			b.WriteRune(char)
		}
	}
	return b.String()
}

const playerColumns = `name, summoner_name, tag_line, region, primary_role, secondary_role, tier, created_at, updated_at`

func scanPlayer(row interface{ Scan(...any) error }) (*models.Player, error) {
	p := &models.Player{}
	err := row.Scan(&p.Name, &p.SummonerName, &p.TagLine, &p.Region,
		&p.PrimaryRole, &p.SecondaryRole, &p.Tier, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPlayers retrieves all players ordered by name
func (d *DB) ListPlayers() ([]*models.Player, error) {
	rows, err := d.db.Query(`SELECT ` + playerColumns + ` FROM players ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}

	return players, rows.Err()
}

// GetPlayerByName retrieves a player, returning nil when it does not exist
func (d *DB) GetPlayerByName(name string) (*models.Player, error) {
	query := d.rebindQuery(`SELECT ` + playerColumns + ` FROM players WHERE name = ?`)

	p, err := scanPlayer(d.db.QueryRow(query, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

// AddPlayer inserts a player. It returns false when the name is already taken.
func (d *DB) AddPlayer(player *models.Player) (bool, error) {
	existing, err := d.GetPlayerByName(player.Name)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	now := time.Now()
	player.CreatedAt = now
	player.UpdatedAt = now

	query := d.rebindQuery(`
		INSERT INTO players (` + playerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = d.db.Exec(query, player.Name, player.SummonerName, player.TagLine, player.Region,
		player.PrimaryRole, player.SecondaryRole, player.Tier, player.CreatedAt, player.UpdatedAt)
	if err != nil {
		return false, err
	}

	return true, nil
}

// UpdatePlayer updates an existing player identified by name
func (d *DB) UpdatePlayer(player *models.Player) error {
	player.UpdatedAt = time.Now()

	query := d.rebindQuery(`
		UPDATE players
		SET summoner_name = ?, tag_line = ?, region = ?, primary_role = ?,
		    secondary_role = ?, tier = ?, updated_at = ?
		WHERE name = ?
	`)

	result, err := d.db.Exec(query, player.SummonerName, player.TagLine, player.Region,
		player.PrimaryRole, player.SecondaryRole, player.Tier, player.UpdatedAt, player.Name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrPlayerNotFound
	}

	return nil
}

// DeletePlayer deletes a player. It returns false when no such player exists.
func (d *DB) DeletePlayer(name string) (bool, error) {
	query := d.rebindQuery("DELETE FROM players WHERE name = ?")
	result, err := d.db.Exec(query, name)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

// CreateSchedule persists a new schedule
func (d *DB) CreateSchedule(s *models.Schedule) error {
	config, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule config: %w", err)
	}

	query := d.rebindQuery(`
		INSERT INTO extraction_schedules (id, kind, config, next_run_at, interval_hours, status, created_at, updated_at, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = d.db.Exec(query, s.ID, string(s.Kind), string(config), s.NextRunAt, s.IntervalHours,
		s.Status, s.CreatedAt, s.UpdatedAt, s.LastRunAt)
	return err
}

// UpdateSchedule writes the mutable bookkeeping fields of a schedule
func (d *DB) UpdateSchedule(s *models.Schedule) error {
	query := d.rebindQuery(`
		UPDATE extraction_schedules
		SET next_run_at = ?, status = ?, updated_at = ?, last_run_at = ?
		WHERE id = ?
	`)

	result, err := d.db.Exec(query, s.NextRunAt, s.Status, s.UpdatedAt, s.LastRunAt, s.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// ListSchedules retrieves all schedules ordered by next run
func (d *DB) ListSchedules() ([]*models.Schedule, error) {
	rows, err := d.db.Query(`
		SELECT id, kind, config, next_run_at, interval_hours, status, created_at, updated_at, last_run_at
		FROM extraction_schedules
		ORDER BY next_run_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.Schedule
	for rows.Next() {
		s := &models.Schedule{}
		var kind, config string
		var lastRun sql.NullTime
		err := rows.Scan(&s.ID, &kind, &config, &s.NextRunAt, &s.IntervalHours,
			&s.Status, &s.CreatedAt, &s.UpdatedAt, &lastRun)
		if err != nil {
			return nil, err
		}
		s.Kind = models.ScheduleKind(kind)
		if lastRun.Valid {
			t := lastRun.Time
			s.LastRunAt = &t
		}
		if err := json.Unmarshal([]byte(config), &s.Config); err != nil {
			return nil, fmt.Errorf("failed to parse config of schedule %s: %w", s.ID, err)
		}
		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}
