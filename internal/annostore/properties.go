package annostore

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/contrast-tiles/server/internal/annotation"
)

// DefaultHistogramBuckets is used when no bucket count is requested.
const DefaultHistogramBuckets = 32

// HistogramBin is one bucket of a property histogram.
type HistogramBin struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// AppendPropertyValues merges values into the stored values of an
// annotation; existing property ids are overwritten.
func (s *Store) AppendPropertyValues(datasetID, annotationID string, values map[string]float64) error {
	if datasetID == "" || annotationID == "" {
		return fmt.Errorf("%w: dataset and annotation ids are required", ErrInvalidDocument)
	}
	for id, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: property %s has non-finite value", ErrInvalidDocument, id)
		}
	}
	if _, err := s.GetAnnotation(annotationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO property_values (annotation_id, dataset_id, property_id, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(annotation_id, property_id) DO UPDATE SET value = excluded.value, dataset_id = excluded.dataset_id
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for propertyID, v := range values {
		if _, err := stmt.Exec(annotationID, datasetID, propertyID, v); err != nil {
			return fmt.Errorf("failed to store property %s: %w", propertyID, err)
		}
	}
	return tx.Commit()
}

// PropertyValues returns every stored value of a dataset keyed by annotation
// id and property id.
func (s *Store) PropertyValues(datasetID string) (annotation.PropertyValues, error) {
	rows, err := s.db.Query(`
		SELECT annotation_id, property_id, value
		FROM property_values WHERE dataset_id = ?
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := annotation.PropertyValues{}
	for rows.Next() {
		var annotationID, propertyID string
		var v float64
		if err := rows.Scan(&annotationID, &propertyID, &v); err != nil {
			return nil, err
		}
		m, ok := values[annotationID]
		if !ok {
			m = make(map[string]float64)
			values[annotationID] = m
		}
		m[propertyID] = v
	}
	return values, rows.Err()
}

// PropertyHistogram buckets the values of one property over a dataset into
// equal-width bins spanning [min, max]. It returns no bins when the property
// has no values, and a single bin when all values are equal.
func (s *Store) PropertyHistogram(datasetID, propertyID string, buckets int) ([]HistogramBin, error) {
	if buckets <= 0 {
		buckets = DefaultHistogramBuckets
	}

	rows, err := s.db.Query(`
		SELECT value FROM property_values
		WHERE dataset_id = ? AND property_id = ?
		ORDER BY value ASC
	`, datasetID, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return Histogram(values, buckets), nil
}

// Histogram bins values into the given number of equal-width buckets.
func Histogram(values []float64, buckets int) []HistogramBin {
	if len(values) == 0 {
		return []HistogramBin{}
	}
	if !sort.Float64sAreSorted(values) {
		values = append([]float64(nil), values...)
		sort.Float64s(values)
	}
	lo, hi := values[0], values[len(values)-1]
	if lo == hi {
		return []HistogramBin{{Count: len(values), Min: lo, Max: hi}}
	}

	dividers := make([]float64, buckets+1)
	floats.Span(dividers, lo, hi)
	// stat.Histogram bins are half-open; widen the last edge so hi is counted.
	dividers[buckets] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, values, nil)
	bins := make([]HistogramBin, buckets)
	for i, c := range counts {
		bins[i] = HistogramBin{Count: int(c), Min: dividers[i], Max: dividers[i+1]}
	}
	bins[buckets-1].Max = hi
	return bins
}
