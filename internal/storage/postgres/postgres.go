// Package postgres is the authoritative store for devices, the event
// history, and alerts. The coordinators and pipelines depend only on the
// interface slices they need; this package is the single implementation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mfeltner/homelink/internal/alert"
	"github.com/mfeltner/homelink/internal/device"
)

// Client manages the Postgres connection.
type Client struct {
	db     *sql.DB
	homeID string
}

// New opens the database using the conventional PG* environment
// variables and creates the schema if absent.
func New(homeID string) (*Client, error) {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "homelink")
	dbname := getEnv("PGDATABASE", "homelink")
	password := os.Getenv("PGPASSWORD")

	connStr := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable", host, port, user, dbname)
	if password != "" {
		connStr += " password=" + password
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	c := &Client{db: db, homeID: homeID}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return c, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS devices (
			id            TEXT PRIMARY KEY,
			home_id       TEXT NOT NULL,
			name          TEXT NOT NULL,
			type          TEXT NOT NULL,
			current_state TEXT NOT NULL DEFAULT 'off',
			brightness    INTEGER NOT NULL DEFAULT 0,
			mode_id       TEXT NOT NULL DEFAULT '',
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_devices_home_id ON devices(home_id);

		CREATE TABLE IF NOT EXISTS events (
			event_id BIGSERIAL PRIMARY KEY,
			ts       TIMESTAMPTZ NOT NULL,
			level    TEXT NOT NULL,
			event    TEXT NOT NULL,
			msg      TEXT,
			fields   JSONB,
			home_id  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);

		CREATE TABLE IF NOT EXISTS alerts (
			id          TEXT PRIMARY KEY,
			home_id     TEXT NOT NULL,
			severity    TEXT NOT NULL,
			message     TEXT NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			device_id   TEXT NOT NULL DEFAULT '',
			ts          TIMESTAMPTZ NOT NULL,
			dismissed   BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_home_id ON alerts(home_id) WHERE NOT dismissed;
	`
	_, err := c.db.Exec(query)
	return err
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// ---- device.Store ----

const deviceColumns = "id, home_id, name, type, current_state, brightness, mode_id, updated_at"

func scanDevice(row interface{ Scan(...any) error }) (*device.Device, error) {
	var d device.Device
	if err := row.Scan(&d.ID, &d.HomeID, &d.Name, &d.Type, &d.State, &d.Brightness, &d.ModeID, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDevice returns one device row.
func (c *Client) GetDevice(ctx context.Context, id string) (*device.Device, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1 AND home_id = $2`, id, c.homeID)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownDevice, id)
	}
	return d, err
}

// ListDevices returns every device for the home, ordered by id.
func (c *Client) ListDevices(ctx context.Context) ([]*device.Device, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE home_id = $1 ORDER BY id`, c.homeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*device.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// updatableColumns fixes the set and order of columns a partial device
// update may touch.
var updatableColumns = []string{"current_state", "brightness", "mode_id"}

// buildDeviceUpdate turns a partial field map into a SET clause and its
// ordered arguments. Unknown fields are rejected rather than silently
// dropped.
func buildDeviceUpdate(fields map[string]any) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("no fields to update")
	}

	allowed := make(map[string]bool, len(updatableColumns))
	for _, col := range updatableColumns {
		allowed[col] = true
	}
	for key := range fields {
		if !allowed[key] {
			return "", nil, fmt.Errorf("unknown device field: %s", key)
		}
	}

	clause := ""
	var args []any
	for _, col := range updatableColumns {
		v, ok := fields[col]
		if !ok {
			continue
		}
		if clause != "" {
			clause += ", "
		}
		args = append(args, v)
		clause += fmt.Sprintf("%s = $%d", col, len(args))
	}
	clause += ", updated_at = now()"
	return clause, args, nil
}

// UpdateDeviceByID writes only the given fields and returns the stored
// row. Concurrent writers touching other fields are not clobbered.
func (c *Client) UpdateDeviceByID(ctx context.Context, id string, fields map[string]any) (*device.Device, error) {
	clause, args, err := buildDeviceUpdate(fields)
	if err != nil {
		return nil, err
	}

	args = append(args, id, c.homeID)
	query := fmt.Sprintf(
		`UPDATE devices SET %s WHERE id = $%d AND home_id = $%d RETURNING %s`,
		clause, len(args)-1, len(args), deviceColumns)

	row := c.db.QueryRowContext(ctx, query, args...)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", device.ErrUnknownDevice, id)
	}
	return d, err
}

// ---- events.Store ----

// EventRow is an event loaded from the history table.
type EventRow struct {
	EventID   int64          `json:"event_id"`
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   *string        `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	HomeID    string         `json:"home_id"`
}

// Append inserts an event into the history.
func (c *Client) Append(ts time.Time, level, name, msg string, fields map[string]any) error {
	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshaling fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	_, err := c.db.Exec(
		`INSERT INTO events (ts, level, event, msg, fields, home_id) VALUES ($1, $2, $3, $4, $5, $6)`,
		ts, level, name, msgPtr, fieldsJSON, c.homeID)
	return err
}

// QueryEvents returns the last `limit` events, newest first.
func (c *Client) QueryEvents(ctx context.Context, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT event_id, ts, level, event, msg, fields, home_id
		FROM events
		WHERE home_id = $1
		ORDER BY ts DESC
		LIMIT $2`, c.homeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var msg sql.NullString
		var fieldsJSON []byte
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.HomeID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("unmarshaling fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- alert.Store ----

// ListAlerts returns undismissed alerts, newest first.
func (c *Client) ListAlerts(ctx context.Context) ([]alert.Alert, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, severity, message, device_name, device_id, ts
		FROM alerts
		WHERE home_id = $1 AND NOT dismissed
		ORDER BY ts DESC`, c.homeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alert.Alert
	for rows.Next() {
		var a alert.Alert
		if err := rows.Scan(&a.ID, &a.Severity, &a.Message, &a.DeviceName, &a.DeviceID, &a.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAlert persists a live alert.
func (c *Client) SaveAlert(ctx context.Context, a alert.Alert) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO alerts (id, home_id, severity, message, device_name, device_id, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		a.ID, c.homeID, a.Severity, a.Message, a.DeviceName, a.DeviceID, a.Timestamp)
	return err
}

// DismissAlert marks an alert dismissed. Returns false if no undismissed
// row matched.
func (c *Client) DismissAlert(ctx context.Context, id string) (bool, error) {
	res, err := c.db.ExecContext(ctx, `
		UPDATE alerts SET dismissed = true
		WHERE id = $1 AND home_id = $2 AND NOT dismissed`, id, c.homeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
