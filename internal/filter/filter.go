// Package filter decides which annotations are visible under a set of
// tag, shape, property, region and selection filters.
package filter

import (
	"fmt"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
)

// Kind names a filter variant.
type Kind string

const (
	KindTag       Kind = "tag"
	KindShape     Kind = "shape"
	KindProperty  Kind = "property"
	KindROI       Kind = "roi"
	KindSelection Kind = "selection"
)

// Filter is one of TagFilter, ShapeFilter, PropertyFilter, ROIFilter or
// SelectionFilter. The set of variants is closed.
type Filter interface {
	Kind() Kind
	Base() Common
	filter()
}

// Common holds the fields every filter carries.
type Common struct {
	ID        string `json:"id"`
	Enabled   bool   `json:"enabled"`
	Exclusive bool   `json:"exclusive"`
}

// Base returns the shared fields.
func (c Common) Base() Common { return c }

// TagFilter keeps annotations carrying all of Tags. When exclusive, the
// annotation may carry no other tag.
type TagFilter struct {
	Common
	Tags []string `json:"tags"`
}

// ShapeFilter keeps annotations of one shape.
type ShapeFilter struct {
	Common
	Shape annotation.Shape `json:"shape"`
}

// Range is an inclusive numeric interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// PropertyFilter keeps annotations whose value of PropertyID lies in Range.
type PropertyFilter struct {
	Common
	PropertyID string `json:"propertyId"`
	Range      Range  `json:"range"`
}

// ROIFilter keeps annotations with at least one point inside ROI.
type ROIFilter struct {
	Common
	ROI []geometry.Point `json:"roi"`
}

// SelectionFilter keeps annotations whose id is in AnnotationIDs.
type SelectionFilter struct {
	Common
	AnnotationIDs []string `json:"annotationIds"`
}

func (TagFilter) Kind() Kind       { return KindTag }
func (ShapeFilter) Kind() Kind     { return KindShape }
func (PropertyFilter) Kind() Kind  { return KindProperty }
func (ROIFilter) Kind() Kind       { return KindROI }
func (SelectionFilter) Kind() Kind { return KindSelection }

func (TagFilter) filter()       {}
func (ShapeFilter) filter()     {}
func (PropertyFilter) filter()  {}
func (ROIFilter) filter()       {}
func (SelectionFilter) filter() {}

// Containment tests whether a point lies in a polygon.
type Containment func(p geometry.Point, polygon []geometry.Point) bool

// Visible returns the annotations accepted by every enabled filter of set,
// in input order. A nil contains uses geometry.PointInPolygon.
func Visible(annotations []annotation.Annotation, set Set, values annotation.PropertyValues, contains Containment) []annotation.Annotation {
	if contains == nil {
		contains = geometry.PointInPolygon
	}
	filters := set.Filters()
	out := make([]annotation.Annotation, 0, len(annotations))
	for _, a := range annotations {
		if Accepts(a, filters, values, contains) {
			out = append(out, a)
		}
	}
	return out
}

// Accepts evaluates filters against one annotation. Every category must
// accept; region filters form an OR group among themselves.
func Accepts(a annotation.Annotation, filters []Filter, values annotation.PropertyValues, contains Containment) bool {
	if contains == nil {
		contains = geometry.PointInPolygon
	}
	roiEnabled, inROI := false, false
	for _, f := range filters {
		switch f := f.(type) {
		case ShapeFilter:
			if f.Enabled && a.Shape != f.Shape {
				return false
			}
		case SelectionFilter:
			if f.Enabled && !containsString(f.AnnotationIDs, a.ID) {
				return false
			}
		case TagFilter:
			if f.Enabled && !acceptsTags(a, f) {
				return false
			}
		case PropertyFilter:
			if !f.Enabled {
				continue
			}
			v, ok := values.Lookup(a.ID, f.PropertyID)
			if !ok || !f.Range.Contains(v) {
				return false
			}
		case ROIFilter:
			if !f.Enabled {
				continue
			}
			roiEnabled = true
			if !inROI && anyPointIn(a.Coordinates, f.ROI, contains) {
				inROI = true
			}
		default:
			panic(fmt.Sprintf("filter: unhandled filter %T", f))
		}
	}
	return !roiEnabled || inROI
}

func acceptsTags(a annotation.Annotation, f TagFilter) bool {
	for _, tag := range f.Tags {
		if !a.HasTag(tag) {
			return false
		}
	}
	if !f.Exclusive {
		return true
	}
	for _, tag := range a.Tags {
		if !containsString(f.Tags, tag) {
			return false
		}
	}
	return true
}

func anyPointIn(points, polygon []geometry.Point, contains Containment) bool {
	for _, p := range points {
		if contains(p, polygon) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
