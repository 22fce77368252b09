// Package store - PostgreSQL record store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	_ "github.com/lib/pq"
)

// PostgresConfig holds the connection settings of the PostgreSQL backend.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// OpenPostgres connects to PostgreSQL and verifies the connection.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := openPostgresDSN(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func openPostgresDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		data BYTEA NOT NULL,
		processed_name TEXT,
		processed_mime_type TEXT,
		processed_data BYTEA,
		failure TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_pending ON images(id) WHERE processed_data IS NULL AND failure = ''`,
}

// Postgres stores records in the images table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres runs the migrations and returns the store.
func NewPostgres(ctx context.Context, db *sql.DB) (*Postgres, error) {
	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return nil, errors.Wrap(err, "failed to execute migration")
		}
	}
	return &Postgres{db: db}, nil
}

const selectColumns = `SELECT id, name, mime_type, kind, data,
	processed_name, processed_mime_type, processed_data, failure, created_at, updated_at
	FROM images`

// Add stores file as a new record.
func (p *Postgres) Add(ctx context.Context, file File) (int64, error) {
	var id int64
	query := `INSERT INTO images (name, mime_type, kind, data) VALUES ($1, $2, $3, $4) RETURNING id`
	err := p.db.QueryRowContext(ctx, query, file.Name, file.MimeType, string(file.Kind), file.Data).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert image")
	}
	return id, nil
}

// Get returns the record with id.
func (p *Postgres) Get(ctx context.Context, id int64) (*Record, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select image %d", id)
	}
	return r, nil
}

// Update replaces the processed file and failure of the record with id.
func (p *Postgres) Update(ctx context.Context, id int64, update Update) error {
	var name, mimeType sql.NullString
	var data []byte
	if f := update.Processed; f != nil {
		name = sql.NullString{String: f.Name, Valid: true}
		mimeType = sql.NullString{String: f.MimeType, Valid: true}
		data = f.Data
	}

	query := `UPDATE images SET processed_name = $1, processed_mime_type = $2, processed_data = $3,
		failure = $4, updated_at = NOW() WHERE id = $5`
	res, err := p.db.ExecContext(ctx, query, name, mimeType, data, update.Failure, id)
	if err != nil {
		return errors.Wrapf(err, "update image %d", id)
	}
	return expectOneRow(res)
}

// Delete removes the record with id.
func (p *Postgres) Delete(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete image %d", id)
	}
	return expectOneRow(res)
}

// Clear removes every record.
func (p *Postgres) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM images WHERE id > 0`)
	return errors.Wrap(err, "clear images")
}

// Filter returns the records accepted by fn, ordered by id.
func (p *Postgres) Filter(ctx context.Context, fn Filter) ([]Record, error) {
	all, err := p.ToArray(ctx)
	if err != nil {
		return nil, err
	}
	return filter(all, fn), nil
}

// ToArray returns every record ordered by id.
func (p *Postgres) ToArray(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "select images")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan image")
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// Close closes the database handle.
func (p *Postgres) Close() error {
	return p.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		r                Record
		kind             string
		pName, pMimeType sql.NullString
		pData            []byte
	)
	err := s.Scan(&r.ID, &r.File.Name, &r.File.MimeType, &kind, &r.File.Data,
		&pName, &pMimeType, &pData, &r.Failure, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.File.Kind = Kind(kind)
	if pData != nil {
		r.Processed = &File{Name: pName.String, MimeType: pMimeType.String, Kind: KindImage, Data: pData}
	}
	return &r, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
