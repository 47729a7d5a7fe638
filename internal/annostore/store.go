// Package annostore persists annotations, their connections and computed
// property values in SQLite.
package annostore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidDocument is returned for records that fail schema validation.
	ErrInvalidDocument = errors.New("invalid document")
)

// Store provides persistent storage for annotations using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	schemas *schemas
}

// NewStore opens (or creates) the annotation database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	sch, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db, schemas: sch}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS annotations (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		name TEXT DEFAULT '',
		shape TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		channel INTEGER NOT NULL,
		location_xy INTEGER NOT NULL,
		location_z INTEGER NOT NULL,
		location_time INTEGER NOT NULL,
		coordinates_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_annotations_dataset ON annotations(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_annotations_location ON annotations(dataset_id, location_xy, location_z, location_time);

	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		label TEXT DEFAULT '',
		tags_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_connections_dataset ON connections(dataset_id);
	CREATE INDEX IF NOT EXISTS idx_connections_parent ON connections(parent_id);
	CREATE INDEX IF NOT EXISTS idx_connections_child ON connections(child_id);

	CREATE TABLE IF NOT EXISTS property_values (
		annotation_id TEXT NOT NULL,
		dataset_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (annotation_id, property_id)
	);

	CREATE INDEX IF NOT EXISTS idx_property_values_dataset ON property_values(dataset_id, property_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func normalizeAnnotation(a *annotation.Annotation) {
	if a.Tags == nil {
		a.Tags = []string{}
	}
}

// CreateAnnotation validates and inserts a, assigning an id when empty.
func (s *Store) CreateAnnotation(a *annotation.Annotation) error {
	_, err := s.CreateAnnotations([]*annotation.Annotation{a})
	return err
}

// CreateAnnotations inserts several annotations in one transaction. Nothing
// is written if any of them is invalid.
func (s *Store) CreateAnnotations(anns []*annotation.Annotation) ([]*annotation.Annotation, error) {
	for _, a := range anns {
		normalizeAnnotation(a)
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if err := validate(s.schemas.annotation, a); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO annotations (id, dataset_id, name, shape, tags_json, channel, location_xy, location_z, location_time, coordinates_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	now := time.Now().Format(time.RFC3339)
	for _, a := range anns {
		tagsJSON, coordsJSON, err := encodeAnnotation(a)
		if err != nil {
			return nil, err
		}
		_, err = stmt.Exec(
			a.ID, a.DatasetID, a.Name, string(a.Shape), tagsJSON, a.Channel,
			a.Location.XY, a.Location.Z, a.Location.Time, coordsJSON, now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert annotation %s: %w", a.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return anns, nil
}

func encodeAnnotation(a *annotation.Annotation) (string, string, error) {
	tagsJSON, err := json.Marshal(a.Tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	coordsJSON, err := json.Marshal(a.Coordinates)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal coordinates: %w", err)
	}
	return string(tagsJSON), string(coordsJSON), nil
}

const annotationColumns = `id, dataset_id, name, shape, tags_json, channel, location_xy, location_z, location_time, coordinates_json`

// GetAnnotation retrieves an annotation by id.
func (s *Store) GetAnnotation(id string) (*annotation.Annotation, error) {
	row := s.db.QueryRow(`SELECT `+annotationColumns+` FROM annotations WHERE id = ?`, id)
	a, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("annotation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateAnnotation replaces the stored record with a. Its id must exist.
func (s *Store) UpdateAnnotation(a *annotation.Annotation) error {
	normalizeAnnotation(a)
	if err := validate(s.schemas.annotation, a); err != nil {
		return err
	}
	tagsJSON, coordsJSON, err := encodeAnnotation(a)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE annotations SET dataset_id = ?, name = ?, shape = ?, tags_json = ?, channel = ?,
			location_xy = ?, location_z = ?, location_time = ?, coordinates_json = ?
		WHERE id = ?
	`, a.DatasetID, a.Name, string(a.Shape), tagsJSON, a.Channel,
		a.Location.XY, a.Location.Z, a.Location.Time, coordsJSON, a.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("annotation %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// DeleteAnnotations removes annotations by id together with their property
// values and every connection that references them. It returns the number
// of annotations removed.
func (s *Store) DeleteAnnotations(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	in, args := inClause(ids)
	if _, err := tx.Exec(`DELETE FROM connections WHERE parent_id IN `+in+` OR child_id IN `+in, append(args, args...)...); err != nil {
		return 0, fmt.Errorf("failed to delete orphaned connections: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM property_values WHERE annotation_id IN `+in, args...); err != nil {
		return 0, fmt.Errorf("failed to delete property values: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM annotations WHERE id IN `+in, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// DeleteDataset removes every record of a dataset.
func (s *Store) DeleteDataset(datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"connections", "property_values", "annotations"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE dataset_id = ?`, datasetID); err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ListAnnotations returns the annotations of a dataset in creation order.
func (s *Store) ListAnnotations(datasetID string) ([]annotation.Annotation, error) {
	rows, err := s.db.Query(`
		SELECT `+annotationColumns+`
		FROM annotations WHERE dataset_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

// annotationsAt returns annotations sharing a location, optionally
// restricted to one channel.
func (s *Store) annotationsAt(datasetID string, loc annotation.Location, channel *int) ([]annotation.Annotation, error) {
	query := `SELECT ` + annotationColumns + ` FROM annotations
		WHERE dataset_id = ? AND location_xy = ? AND location_z = ? AND location_time = ?`
	args := []interface{}{datasetID, loc.XY, loc.Z, loc.Time}
	if channel != nil {
		query += ` AND channel = ?`
		args = append(args, *channel)
	}
	query += ` ORDER BY rowid ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAnnotations(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAnnotation(row scanner) (*annotation.Annotation, error) {
	var a annotation.Annotation
	var shape, tagsJSON, coordsJSON string
	err := row.Scan(
		&a.ID,
		&a.DatasetID,
		&a.Name,
		&shape,
		&tagsJSON,
		&a.Channel,
		&a.Location.XY,
		&a.Location.Z,
		&a.Location.Time,
		&coordsJSON,
	)
	if err != nil {
		return nil, err
	}
	a.Shape = annotation.Shape(shape)
	if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	var coords []geometry.Point
	if err := json.Unmarshal([]byte(coordsJSON), &coords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal coordinates: %w", err)
	}
	a.Coordinates = coords
	return &a, nil
}

func scanAnnotations(rows *sql.Rows) ([]annotation.Annotation, error) {
	anns := []annotation.Annotation{}
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		anns = append(anns, *a)
	}
	return anns, rows.Err()
}

func inClause(ids []string) (string, []interface{}) {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + ")", args
}
