// Package annotation defines annotations, connections and property values of a dataset.
package annotation

import (
	"github.com/contrast-tiles/server/internal/geometry"
)

// Shape is the kind of geometry an annotation carries.
type Shape string

const (
	ShapePoint   Shape = "point"
	ShapeLine    Shape = "line"
	ShapePolygon Shape = "polygon"
)

// Valid reports whether s is one of the known shapes.
func (s Shape) Valid() bool {
	switch s {
	case ShapePoint, ShapeLine, ShapePolygon:
		return true
	}
	return false
}

// Location is the viewport coordinate an annotation was drawn at.
type Location struct {
	XY   int `json:"XY"`
	Z    int `json:"Z"`
	Time int `json:"Time"`
}

// Annotation is a point or shape drawn over a dataset. Records are replaced
// whole; they are never edited in place.
type Annotation struct {
	ID          string           `json:"id"`
	Name        string           `json:"name,omitempty"`
	DatasetID   string           `json:"datasetId"`
	Shape       Shape            `json:"shape"`
	Tags        []string         `json:"tags"`
	Channel     int              `json:"channel"`
	Location    Location         `json:"location"`
	Coordinates []geometry.Point `json:"coordinates"`
}

// HasTag reports whether the annotation carries tag.
func (a Annotation) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Connection is a directed edge between two annotations.
type Connection struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parentId"`
	ChildID   string   `json:"childId"`
	Label     string   `json:"label"`
	Tags      []string `json:"tags"`
	DatasetID string   `json:"datasetId"`
}

// PropertyValues maps annotation id -> property id -> value.
type PropertyValues map[string]map[string]float64

// Lookup returns the value of a property for an annotation.
func (pv PropertyValues) Lookup(annotationID, propertyID string) (float64, bool) {
	values, ok := pv[annotationID]
	if !ok {
		return 0, false
	}
	v, ok := values[propertyID]
	return v, ok
}

// IDs returns the ids of the annotations in order.
func IDs(annotations []Annotation) []string {
	ids := make([]string, len(annotations))
	for i, a := range annotations {
		ids[i] = a.ID
	}
	return ids
}
