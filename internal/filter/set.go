package filter

import (
	"fmt"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
)

// Set is an immutable snapshot of the active filters. Every mutation returns
// a new Set and leaves the receiver untouched.
type Set struct {
	Tag        TagFilter        `json:"tagFilter"`
	Shape      ShapeFilter      `json:"shapeFilter"`
	Selection  SelectionFilter  `json:"selectionFilter"`
	Properties []PropertyFilter `json:"propertyFilters"`
	ROIs       []ROIFilter      `json:"roiFilters"`
	// PendingROI is the region being drawn; it filters nothing until committed.
	PendingROI *ROIFilter `json:"emptyROIFilter"`
	// FilterIDs are the property ids whose histograms are tracked.
	FilterIDs []string `json:"filterIds"`
}

// NewSet returns the initial, fully disabled filter set.
func NewSet() Set {
	return Set{
		Tag: TagFilter{
			Common: Common{ID: "tagFilter"},
			Tags:   []string{},
		},
		Shape: ShapeFilter{
			Common: Common{ID: "shapeFilter", Exclusive: true},
			Shape:  annotation.ShapePoint,
		},
		Selection: SelectionFilter{
			Common:        Common{ID: "selection", Exclusive: true},
			AnnotationIDs: []string{},
		},
		Properties: []PropertyFilter{},
		ROIs:       []ROIFilter{},
		FilterIDs:  []string{},
	}
}

// ROIFilterName is the display id of the region filter at index i.
func ROIFilterName(i int) string {
	return fmt.Sprintf("Region Filter %d", i)
}

// Filters flattens the set: shape, selection, tag, properties, then regions.
func (s Set) Filters() []Filter {
	out := make([]Filter, 0, 3+len(s.Properties)+len(s.ROIs))
	out = append(out, s.Shape, s.Selection, s.Tag)
	for _, f := range s.Properties {
		out = append(out, f)
	}
	for _, f := range s.ROIs {
		out = append(out, f)
	}
	return out
}

// PropertyFilter returns the filter for a property id.
func (s Set) PropertyFilter(propertyID string) (PropertyFilter, bool) {
	for _, f := range s.Properties {
		if f.PropertyID == propertyID {
			return f, true
		}
	}
	return PropertyFilter{}, false
}

// WithTagFilter replaces the tag filter.
func (s Set) WithTagFilter(f TagFilter) Set {
	f.Tags = cloneStrings(f.Tags)
	s.Tag = f
	return s
}

// AddTag adds tag to the tag filter if absent.
func (s Set) AddTag(tag string) Set {
	if containsString(s.Tag.Tags, tag) {
		return s
	}
	tags := make([]string, 0, len(s.Tag.Tags)+1)
	tags = append(tags, s.Tag.Tags...)
	s.Tag.Tags = append(tags, tag)
	return s
}

// WithShapeFilter replaces the shape filter.
func (s Set) WithShapeFilter(f ShapeFilter) Set {
	s.Shape = f
	return s
}

// UpdatePropertyFilter drops any filter on f.PropertyID and appends f.
func (s Set) UpdatePropertyFilter(f PropertyFilter) Set {
	props := make([]PropertyFilter, 0, len(s.Properties)+1)
	for _, existing := range s.Properties {
		if existing.PropertyID != f.PropertyID {
			props = append(props, existing)
		}
	}
	s.Properties = append(props, f)
	return s
}

// NewROIFilter drafts a region filter, replacing any pending draft.
func (s Set) NewROIFilter() Set {
	s.PendingROI = &ROIFilter{
		Common: Common{ID: ROIFilterName(len(s.ROIs)), Enabled: true, Exclusive: true},
		ROI:    []geometry.Point{},
	}
	return s
}

// CommitROIFilter moves the pending draft, with its polygon, into the active
// region filters. Without a draft the set is returned unchanged.
func (s Set) CommitROIFilter(roi []geometry.Point) Set {
	if s.PendingROI == nil {
		return s
	}
	committed := *s.PendingROI
	committed.ROI = append([]geometry.Point(nil), roi...)

	rois := make([]ROIFilter, 0, len(s.ROIs)+1)
	rois = append(rois, s.ROIs...)
	s.ROIs = append(rois, committed)
	s.PendingROI = nil
	return s
}

// CancelROIFilter discards the pending draft.
func (s Set) CancelROIFilter() Set {
	s.PendingROI = nil
	return s
}

// RemoveROIFilter drops the region filter with id and renumbers the rest.
func (s Set) RemoveROIFilter(id string) Set {
	rois := make([]ROIFilter, 0, len(s.ROIs))
	for _, f := range s.ROIs {
		if f.ID == id {
			continue
		}
		f.ID = ROIFilterName(len(rois))
		rois = append(rois, f)
	}
	s.ROIs = rois
	return s
}

// ToggleROIFilter flips the enabled flag of a region filter in place.
func (s Set) ToggleROIFilter(id string) Set {
	rois := make([]ROIFilter, len(s.ROIs))
	copy(rois, s.ROIs)
	for i := range rois {
		if rois[i].ID == id {
			rois[i].Enabled = !rois[i].Enabled
		}
	}
	s.ROIs = rois
	return s
}

// SelectAsFilter restricts visibility to the given annotation ids.
func (s Set) SelectAsFilter(ids []string) Set {
	s.Selection = SelectionFilter{
		Common:        Common{ID: "selection", Enabled: true, Exclusive: true},
		AnnotationIDs: cloneStrings(ids),
	}
	return s
}

// ClearSelection disables the selection filter.
func (s Set) ClearSelection() Set {
	s.Selection = SelectionFilter{
		Common:        Common{ID: "selection", Exclusive: true},
		AnnotationIDs: []string{},
	}
	return s
}

// AddFilterID tracks the histogram of a property.
func (s Set) AddFilterID(id string) Set {
	if containsString(s.FilterIDs, id) {
		return s
	}
	ids := make([]string, 0, len(s.FilterIDs)+1)
	ids = append(ids, s.FilterIDs...)
	s.FilterIDs = append(ids, id)
	return s
}

// RemoveFilterID stops tracking the histogram of a property.
func (s Set) RemoveFilterID(id string) Set {
	if !containsString(s.FilterIDs, id) {
		return s
	}
	ids := make([]string, 0, len(s.FilterIDs))
	for _, v := range s.FilterIDs {
		if v != id {
			ids = append(ids, v)
		}
	}
	s.FilterIDs = ids
	return s
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
