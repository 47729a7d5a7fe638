package filter

import (
	"reflect"
	"testing"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
)

func pointAnn(id string, x, y float64, tags ...string) annotation.Annotation {
	return annotation.Annotation{
		ID:          id,
		Shape:       annotation.ShapePoint,
		Tags:        tags,
		Coordinates: []geometry.Point{{X: x, Y: y}},
	}
}

func square(x0, y0, size float64) []geometry.Point {
	return []geometry.Point{{X: x0, Y: y0}, {X: x0 + size, Y: y0}, {X: x0 + size, Y: y0 + size}, {X: x0, Y: y0 + size}}
}

func visibleIDs(anns []annotation.Annotation, set Set, values annotation.PropertyValues) []string {
	return annotation.IDs(Visible(anns, set, values, nil))
}

func TestVisibleNoFiltersKeepsAll(t *testing.T) {
	anns := []annotation.Annotation{pointAnn("a", 0, 0), pointAnn("b", 1, 1, "x")}
	got := visibleIDs(anns, NewSet(), nil)
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected all annotations, got %v", got)
	}
}

func TestShapeFilter(t *testing.T) {
	poly := annotation.Annotation{ID: "poly", Shape: annotation.ShapePolygon, Coordinates: square(0, 0, 1)}
	anns := []annotation.Annotation{pointAnn("p1", 0, 0), poly, pointAnn("p2", 2, 2)}

	set := NewSet().WithShapeFilter(ShapeFilter{
		Common: Common{ID: "shapeFilter", Enabled: true, Exclusive: true},
		Shape:  annotation.ShapePolygon,
	})
	got := visibleIDs(anns, set, nil)
	if !reflect.DeepEqual(got, []string{"poly"}) {
		t.Fatalf("expected only polygons, got %v", got)
	}
}

func TestTagFilter(t *testing.T) {
	ann := pointAnn("a", 0, 0, "a", "b")
	tests := []struct {
		name      string
		tags      []string
		exclusive bool
		want      bool
	}{
		{name: "exclusiveSubset", tags: []string{"a"}, exclusive: true, want: false},
		{name: "exclusiveExact", tags: []string{"a", "b"}, exclusive: true, want: true},
		{name: "exclusiveReordered", tags: []string{"b", "a"}, exclusive: true, want: true},
		{name: "nonExclusiveSubset", tags: []string{"a"}, exclusive: false, want: true},
		{name: "missingTag", tags: []string{"a", "c"}, exclusive: false, want: false},
		{name: "emptyNonExclusive", tags: nil, exclusive: false, want: true},
		{name: "emptyExclusive", tags: nil, exclusive: true, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewSet().WithTagFilter(TagFilter{
				Common: Common{ID: "tagFilter", Enabled: true, Exclusive: tt.exclusive},
				Tags:   tt.tags,
			})
			got := len(Visible([]annotation.Annotation{ann}, set, nil, nil)) == 1
			if got != tt.want {
				t.Fatalf("tags %v exclusive=%v: expected visible=%v, got %v", tt.tags, tt.exclusive, tt.want, got)
			}
		})
	}
}

func TestTagFilterDisabledIgnored(t *testing.T) {
	set := NewSet().WithTagFilter(TagFilter{
		Common: Common{ID: "tagFilter", Exclusive: true},
		Tags:   []string{"zzz"},
	})
	if got := visibleIDs([]annotation.Annotation{pointAnn("a", 0, 0, "a")}, set, nil); len(got) != 1 {
		t.Fatalf("expected disabled tag filter to pass everything, got %v", got)
	}
}

func TestROIFiltersAreAnOrGroup(t *testing.T) {
	anns := []annotation.Annotation{pointAnn("in", 5, 5), pointAnn("out", 50, 50)}

	set := NewSet().NewROIFilter().CommitROIFilter(square(0, 0, 10))
	set = set.NewROIFilter().CommitROIFilter(square(100, 100, 10))

	got := visibleIDs(anns, set, nil)
	if !reflect.DeepEqual(got, []string{"in"}) {
		t.Fatalf("expected only the annotation inside one region, got %v", got)
	}

	// disabling every region lifts the restriction
	set = set.ToggleROIFilter(ROIFilterName(0)).ToggleROIFilter(ROIFilterName(1))
	got = visibleIDs(anns, set, nil)
	if !reflect.DeepEqual(got, []string{"in", "out"}) {
		t.Fatalf("expected no region restriction, got %v", got)
	}
}

func TestROIFilterAnyPoint(t *testing.T) {
	line := annotation.Annotation{
		ID:          "line",
		Shape:       annotation.ShapeLine,
		Coordinates: []geometry.Point{{X: 50, Y: 50}, {X: 5, Y: 5}},
	}
	set := NewSet().NewROIFilter().CommitROIFilter(square(0, 0, 10))
	if got := visibleIDs([]annotation.Annotation{line}, set, nil); len(got) != 1 {
		t.Fatalf("expected a line with one point inside to pass, got %v", got)
	}
}

func TestPropertyFilter(t *testing.T) {
	anns := []annotation.Annotation{pointAnn("small", 0, 0), pointAnn("big", 0, 0), pointAnn("unknown", 0, 0)}
	values := annotation.PropertyValues{
		"small": {"size": 2},
		"big":   {"size": 20},
	}
	set := NewSet().UpdatePropertyFilter(PropertyFilter{
		Common:     Common{ID: "size", Enabled: true},
		PropertyID: "size",
		Range:      Range{Min: 0, Max: 10},
	})
	got := visibleIDs(anns, set, values)
	if !reflect.DeepEqual(got, []string{"small"}) {
		t.Fatalf("expected only small, got %v", got)
	}

	// inclusive bounds
	set = set.UpdatePropertyFilter(PropertyFilter{
		Common:     Common{ID: "size", Enabled: true},
		PropertyID: "size",
		Range:      Range{Min: 2, Max: 20},
	})
	got = visibleIDs(anns, set, values)
	if !reflect.DeepEqual(got, []string{"small", "big"}) {
		t.Fatalf("expected inclusive range to keep small and big, got %v", got)
	}

	// disabled filters are skipped, even for missing values
	set = set.UpdatePropertyFilter(PropertyFilter{Common: Common{ID: "size"}, PropertyID: "size"})
	if got := visibleIDs(anns, set, values); len(got) != 3 {
		t.Fatalf("expected disabled property filter to pass everything, got %v", got)
	}
}

func TestUpdatePropertyFilterReplacesByID(t *testing.T) {
	set := NewSet().
		UpdatePropertyFilter(PropertyFilter{PropertyID: "area", Range: Range{Max: 1}}).
		UpdatePropertyFilter(PropertyFilter{PropertyID: "size", Range: Range{Max: 1}}).
		UpdatePropertyFilter(PropertyFilter{PropertyID: "area", Range: Range{Max: 5}})

	if len(set.Properties) != 2 {
		t.Fatalf("expected 2 property filters, got %d", len(set.Properties))
	}
	if set.Properties[0].PropertyID != "size" || set.Properties[1].PropertyID != "area" {
		t.Fatalf("expected replaced filter appended last, got %+v", set.Properties)
	}
	f, ok := set.PropertyFilter("area")
	if !ok || f.Range.Max != 5 {
		t.Fatalf("expected area range max 5, got %+v ok=%v", f, ok)
	}
}

func TestSelectionFilter(t *testing.T) {
	anns := []annotation.Annotation{pointAnn("a", 0, 0), pointAnn("b", 0, 0), pointAnn("c", 0, 0)}
	set := NewSet().SelectAsFilter([]string{"c", "a"})
	got := visibleIDs(anns, set, nil)
	if !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("expected selection in input order, got %v", got)
	}
	if got := visibleIDs(anns, set.ClearSelection(), nil); len(got) != 3 {
		t.Fatalf("expected cleared selection to pass everything, got %v", got)
	}
}

func TestRemoveROIFilterRenumbers(t *testing.T) {
	set := NewSet()
	for i := 0; i < 3; i++ {
		set = set.NewROIFilter().CommitROIFilter(square(float64(i*10), 0, 5))
	}
	set = set.RemoveROIFilter("Region Filter 1")

	if len(set.ROIs) != 2 {
		t.Fatalf("expected 2 region filters, got %d", len(set.ROIs))
	}
	if set.ROIs[0].ID != "Region Filter 0" || set.ROIs[1].ID != "Region Filter 1" {
		t.Fatalf("expected renumbered ids, got %q %q", set.ROIs[0].ID, set.ROIs[1].ID)
	}
	// the old third filter keeps its polygon and moves up
	if set.ROIs[1].ROI[0].X != 20 {
		t.Fatalf("expected relative order preserved, got %+v", set.ROIs[1].ROI)
	}
}

func TestToggleROIFilterKeepsPosition(t *testing.T) {
	set := NewSet()
	for i := 0; i < 3; i++ {
		set = set.NewROIFilter().CommitROIFilter(square(0, 0, 5))
	}
	toggled := set.ToggleROIFilter("Region Filter 0")

	if toggled.ROIs[0].ID != "Region Filter 0" || toggled.ROIs[0].Enabled {
		t.Fatalf("expected first filter disabled in place, got %+v", toggled.ROIs[0].Common)
	}
	if !set.ROIs[0].Enabled {
		t.Fatal("expected original snapshot untouched")
	}
	back := toggled.ToggleROIFilter("Region Filter 0")
	if !reflect.DeepEqual(back, set) {
		t.Fatal("expected toggling twice to restore the set")
	}
}

func TestROIDraftStateMachine(t *testing.T) {
	set := NewSet()
	if got := set.CommitROIFilter(square(0, 0, 1)); len(got.ROIs) != 0 {
		t.Fatal("expected commit without a draft to be a no-op")
	}

	pending := set.NewROIFilter()
	if pending.PendingROI == nil || pending.PendingROI.ID != "Region Filter 0" {
		t.Fatalf("expected pending draft, got %+v", pending.PendingROI)
	}
	if !pending.PendingROI.Enabled || !pending.PendingROI.Exclusive {
		t.Fatalf("expected draft enabled and exclusive, got %+v", pending.PendingROI.Common)
	}

	// a pending draft does not filter anything
	if got := visibleIDs([]annotation.Annotation{pointAnn("a", 500, 500)}, pending, nil); len(got) != 1 {
		t.Fatalf("expected pending draft to be ignored, got %v", got)
	}

	cancelled := pending.CancelROIFilter()
	if cancelled.PendingROI != nil || len(cancelled.ROIs) != 0 {
		t.Fatalf("expected cancelled draft discarded, got %+v", cancelled)
	}

	committed := pending.NewROIFilter().CommitROIFilter(square(0, 0, 1))
	if committed.PendingROI != nil || len(committed.ROIs) != 1 {
		t.Fatalf("expected one committed region, got %+v", committed)
	}
	if len(committed.ROIs[0].ROI) != 4 {
		t.Fatalf("expected committed polygon stored, got %+v", committed.ROIs[0].ROI)
	}
	if next := committed.NewROIFilter(); next.PendingROI.ID != "Region Filter 1" {
		t.Fatalf("expected next draft numbered after committed, got %q", next.PendingROI.ID)
	}
}

func TestMutationsDoNotAlterReceiver(t *testing.T) {
	base := NewSet().AddTag("a").AddFilterID("area")
	base = base.NewROIFilter().CommitROIFilter(square(0, 0, 1))
	base = base.UpdatePropertyFilter(PropertyFilter{PropertyID: "area"})
	before := base.Filters()

	_ = base.AddTag("b")
	_ = base.AddFilterID("size")
	_ = base.ToggleROIFilter("Region Filter 0")
	_ = base.RemoveROIFilter("Region Filter 0")
	_ = base.UpdatePropertyFilter(PropertyFilter{PropertyID: "area", Range: Range{Max: 9}})
	_ = base.SelectAsFilter([]string{"x"})

	if !reflect.DeepEqual(before, base.Filters()) {
		t.Fatal("expected receiver filters unchanged")
	}
	if !reflect.DeepEqual(base.Tag.Tags, []string{"a"}) || !reflect.DeepEqual(base.FilterIDs, []string{"area"}) {
		t.Fatalf("expected receiver lists unchanged, got tags=%v ids=%v", base.Tag.Tags, base.FilterIDs)
	}
}

func TestFilterIDs(t *testing.T) {
	set := NewSet().AddFilterID("area").AddFilterID("size").AddFilterID("area")
	if !reflect.DeepEqual(set.FilterIDs, []string{"area", "size"}) {
		t.Fatalf("expected deduplicated ids, got %v", set.FilterIDs)
	}
	set = set.RemoveFilterID("area")
	if !reflect.DeepEqual(set.FilterIDs, []string{"size"}) {
		t.Fatalf("expected area removed, got %v", set.FilterIDs)
	}
}

func TestFiltersOrder(t *testing.T) {
	set := NewSet().UpdatePropertyFilter(PropertyFilter{PropertyID: "p"})
	set = set.NewROIFilter().CommitROIFilter(square(0, 0, 1))
	var kinds []Kind
	for _, f := range set.Filters() {
		kinds = append(kinds, f.Kind())
	}
	want := []Kind{KindShape, KindSelection, KindTag, KindProperty, KindROI}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
}

func TestAcceptsCustomContainment(t *testing.T) {
	calls := 0
	always := func(geometry.Point, []geometry.Point) bool {
		calls++
		return true
	}
	roi := ROIFilter{Common: Common{Enabled: true}, ROI: square(0, 0, 1)}
	if !Accepts(pointAnn("a", 99, 99), []Filter{roi}, nil, always) {
		t.Fatal("expected supplied containment to be used")
	}
	if calls != 1 {
		t.Fatalf("expected one containment call, got %d", calls)
	}
}
