// Package history records training runs and their per-epoch results in a
// SQLite database.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/b0tShaman/neuro-mlp/config"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite"
)

// DB is a run history store.
type DB struct{ sql *sql.DB }

// Epoch is one stored epoch result.
type Epoch struct {
	Epoch    int
	Accuracy float64
	Loss     float64
	Duration time.Duration
}

// Run is a stored run header.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Config     string // YAML
}

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}
	// every connection to ":memory:" is a separate database
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		_ = d.Close()
		return nil, errors.Wrapf(err, "open history %s", path)
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
	  id TEXT PRIMARY KEY,
	  started_at INTEGER NOT NULL,
	  finished_at INTEGER,
	  status TEXT NOT NULL,
	  config TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS epochs (
	  run_id TEXT NOT NULL REFERENCES runs(id),
	  epoch INTEGER NOT NULL,
	  accuracy REAL NOT NULL,
	  loss REAL NOT NULL,
	  duration_ms INTEGER NOT NULL,
	  PRIMARY KEY (run_id, epoch)
	);
	`)
	return errors.Wrap(err, "migrate history")
}

// StartRun inserts a running run with the given configuration and returns
// its id.
func (d *DB) StartRun(ctx context.Context, cfg config.Config) (string, error) {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.WithStack(err)
	}
	id := uuid.NewString()
	_, err = d.sql.ExecContext(ctx, `INSERT INTO runs(id, started_at, status, config) VALUES(?,?,?,?)`,
		id, time.Now().UTC().UnixMilli(), "running", string(b))
	if err != nil {
		return "", errors.Wrap(err, "start run")
	}
	return id, nil
}

// PutEpoch stores one epoch's result for run id.
func (d *DB) PutEpoch(ctx context.Context, id string, e Epoch) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO epochs(run_id, epoch, accuracy, loss, duration_ms) VALUES(?,?,?,?,?)`,
		id, e.Epoch, e.Accuracy, e.Loss, e.Duration.Milliseconds())
	return errors.Wrapf(err, "store epoch %d", e.Epoch)
}

// FinishRun marks run id with a final status such as "done" or "failed".
func (d *DB) FinishRun(ctx context.Context, id, status string) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET finished_at=?, status=? WHERE id=?`,
		time.Now().UTC().UnixMilli(), status, id)
	if err != nil {
		return errors.Wrap(err, "finish run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("finish run: no run %s", id)
	}
	return nil
}

// GetRun loads the header of run id.
func (d *DB) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(d.sql.QueryRowContext(ctx, `SELECT id, started_at, finished_at, status, config FROM runs WHERE id=?`, id))
	return r, errors.Wrapf(err, "get run %s", id)
}

// LatestRun loads the most recently started run.
func (d *DB) LatestRun(ctx context.Context) (Run, error) {
	r, err := scanRun(d.sql.QueryRowContext(ctx, `SELECT id, started_at, finished_at, status, config FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
	return r, errors.Wrap(err, "latest run")
}

func scanRun(row *sql.Row) (Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&r.ID, &started, &finished, &r.Status, &r.Config); err != nil {
		return Run{}, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		r.FinishedAt = time.UnixMilli(finished.Int64).UTC()
	}
	return r, nil
}

// Epochs returns the stored epochs of run id in order.
func (d *DB) Epochs(ctx context.Context, id string) ([]Epoch, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT epoch, accuracy, loss, duration_ms FROM epochs WHERE run_id=? ORDER BY epoch`, id)
	if err != nil {
		return nil, errors.Wrap(err, "list epochs")
	}
	defer rows.Close()
	var out []Epoch
	for rows.Next() {
		var e Epoch
		var ms int64
		if err := rows.Scan(&e.Epoch, &e.Accuracy, &e.Loss, &ms); err != nil {
			return nil, errors.WithStack(err)
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, errors.WithStack(rows.Err())
}
