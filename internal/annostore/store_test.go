package annostore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "annotations.sqlite"))
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func point(dataset string, x, y float64, tags ...string) *annotation.Annotation {
	return &annotation.Annotation{
		DatasetID:   dataset,
		Shape:       annotation.ShapePoint,
		Tags:        tags,
		Coordinates: []geometry.Point{{X: x, Y: y}},
	}
}

func TestCreateAndGetAnnotation(t *testing.T) {
	s := newTestStore(t)

	a := &annotation.Annotation{
		Name:        "cell",
		DatasetID:   "ds1",
		Shape:       annotation.ShapePolygon,
		Tags:        []string{"nucleus"},
		Channel:     1,
		Location:    annotation.Location{XY: 1, Z: 2, Time: 3},
		Coordinates: []geometry.Point{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}},
	}
	if err := s.CreateAnnotation(a); err != nil {
		t.Fatalf("CreateAnnotation() error: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	got, err := s.GetAnnotation(a.ID)
	if err != nil {
		t.Fatalf("GetAnnotation() error: %v", err)
	}
	if !reflect.DeepEqual(got, a) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, a)
	}

	if _, err := s.GetAnnotation("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAnnotationInvalid(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		name string
		ann  *annotation.Annotation
	}{
		{name: "noDataset", ann: point("", 0, 0)},
		{name: "badShape", ann: &annotation.Annotation{DatasetID: "ds", Shape: "circle", Coordinates: []geometry.Point{{}}}},
		{name: "noCoordinates", ann: &annotation.Annotation{DatasetID: "ds", Shape: annotation.ShapePoint}},
		{name: "negativeChannel", ann: &annotation.Annotation{DatasetID: "ds", Shape: annotation.ShapePoint, Channel: -1, Coordinates: []geometry.Point{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateAnnotation(tt.ann); !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}

	anns, err := s.ListAnnotations("ds")
	if err != nil {
		t.Fatalf("ListAnnotations() error: %v", err)
	}
	if len(anns) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(anns))
	}
}

func TestUpdateAnnotationReplacesRecord(t *testing.T) {
	s := newTestStore(t)
	a := point("ds1", 1, 1, "a")
	if err := s.CreateAnnotation(a); err != nil {
		t.Fatalf("CreateAnnotation() error: %v", err)
	}

	replacement := point("ds1", 9, 9, "b", "c")
	replacement.ID = a.ID
	if err := s.UpdateAnnotation(replacement); err != nil {
		t.Fatalf("UpdateAnnotation() error: %v", err)
	}
	got, err := s.GetAnnotation(a.ID)
	if err != nil {
		t.Fatalf("GetAnnotation() error: %v", err)
	}
	if !reflect.DeepEqual(got.Tags, []string{"b", "c"}) || got.Coordinates[0].X != 9 {
		t.Fatalf("expected replaced record, got %+v", got)
	}

	ghost := point("ds1", 0, 0)
	ghost.ID = "ghost"
	if err := s.UpdateAnnotation(ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAnnotationsCleansConnections(t *testing.T) {
	s := newTestStore(t)
	a, b, c := point("ds1", 0, 0), point("ds1", 1, 1), point("ds1", 2, 2)
	if _, err := s.CreateAnnotations([]*annotation.Annotation{a, b, c}); err != nil {
		t.Fatalf("CreateAnnotations() error: %v", err)
	}
	for _, conn := range []*annotation.Connection{
		{ParentID: a.ID, ChildID: b.ID, DatasetID: "ds1"},
		{ParentID: b.ID, ChildID: c.ID, DatasetID: "ds1"},
		{ParentID: a.ID, ChildID: c.ID, DatasetID: "ds1"},
	} {
		if err := s.CreateConnection(conn); err != nil {
			t.Fatalf("CreateConnection() error: %v", err)
		}
	}
	if err := s.AppendPropertyValues("ds1", b.ID, map[string]float64{"area": 3}); err != nil {
		t.Fatalf("AppendPropertyValues() error: %v", err)
	}

	n, err := s.DeleteAnnotations([]string{b.ID})
	if err != nil {
		t.Fatalf("DeleteAnnotations() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	conns, err := s.ListConnections("ds1")
	if err != nil {
		t.Fatalf("ListConnections() error: %v", err)
	}
	if len(conns) != 1 || conns[0].ParentID != a.ID || conns[0].ChildID != c.ID {
		t.Fatalf("expected only a->c to remain, got %+v", conns)
	}
	values, err := s.PropertyValues("ds1")
	if err != nil {
		t.Fatalf("PropertyValues() error: %v", err)
	}
	if _, ok := values[b.ID]; ok {
		t.Fatal("expected property values of deleted annotation removed")
	}
}

func TestCreateConnectionValidation(t *testing.T) {
	s := newTestStore(t)
	a := point("ds1", 0, 0)
	if err := s.CreateAnnotation(a); err != nil {
		t.Fatalf("CreateAnnotation() error: %v", err)
	}

	tests := []struct {
		name string
		conn *annotation.Connection
	}{
		{name: "missingChild", conn: &annotation.Connection{ParentID: a.ID, DatasetID: "ds1"}},
		{name: "unknownChild", conn: &annotation.Connection{ParentID: a.ID, ChildID: "nope", DatasetID: "ds1"}},
		{name: "missingDataset", conn: &annotation.Connection{ParentID: a.ID, ChildID: a.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateConnection(tt.conn); !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestConnectToNearest(t *testing.T) {
	s := newTestStore(t)
	child := point("ds1", 0, 0, "cell")
	near := point("ds1", 1, 1, "cell")
	far := point("ds1", 10, 10, "cell")
	untagged := point("ds1", 0.5, 0, "debris")
	elsewhere := point("ds1", 0.1, 0.1, "cell")
	elsewhere.Location.Z = 4
	if _, err := s.CreateAnnotations([]*annotation.Annotation{child, near, far, untagged, elsewhere}); err != nil {
		t.Fatalf("CreateAnnotations() error: %v", err)
	}

	conns, err := s.ConnectToNearest(NearestRequest{AnnotationIDs: []string{child.ID, "unknown"}, Tags: []string{"cell"}})
	if err != nil {
		t.Fatalf("ConnectToNearest() error: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	c := conns[0]
	if c.ParentID != near.ID || c.ChildID != child.ID || c.Label != NearestLabel {
		t.Fatalf("expected child connected to nearest tagged annotation, got %+v", c)
	}

	conns, err = s.ConnectToNearest(NearestRequest{AnnotationIDs: []string{child.ID}})
	if err != nil {
		t.Fatalf("ConnectToNearest() error: %v", err)
	}
	if len(conns) != 1 || conns[0].ParentID != untagged.ID {
		t.Fatalf("expected untagged neighbour without tag restriction, got %+v", conns)
	}

	if _, err := s.ConnectToNearest(NearestRequest{}); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument for empty request, got %v", err)
	}
}

func TestConnectToNearestAlone(t *testing.T) {
	s := newTestStore(t)
	a := point("ds1", 0, 0)
	if err := s.CreateAnnotation(a); err != nil {
		t.Fatalf("CreateAnnotation() error: %v", err)
	}
	conns, err := s.ConnectToNearest(NearestRequest{AnnotationIDs: []string{a.ID}})
	if err != nil {
		t.Fatalf("ConnectToNearest() error: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected no connection without neighbours, got %+v", conns)
	}
}

func TestPropertyValuesAndHistogram(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for i := 0; i < 4; i++ {
		a := point("ds1", float64(i), 0)
		if err := s.CreateAnnotation(a); err != nil {
			t.Fatalf("CreateAnnotation() error: %v", err)
		}
		ids = append(ids, a.ID)
		if err := s.AppendPropertyValues("ds1", a.ID, map[string]float64{"area": float64(i)}); err != nil {
			t.Fatalf("AppendPropertyValues() error: %v", err)
		}
	}
	if err := s.AppendPropertyValues("ds1", ids[0], map[string]float64{"perimeter": 7}); err != nil {
		t.Fatalf("AppendPropertyValues() error: %v", err)
	}

	values, err := s.PropertyValues("ds1")
	if err != nil {
		t.Fatalf("PropertyValues() error: %v", err)
	}
	if v, ok := values.Lookup(ids[0], "perimeter"); !ok || v != 7 {
		t.Fatalf("expected merged perimeter value, got %v %v", v, ok)
	}
	if v, ok := values.Lookup(ids[0], "area"); !ok || v != 0 {
		t.Fatalf("expected area kept after append, got %v %v", v, ok)
	}

	bins, err := s.PropertyHistogram("ds1", "area", 3)
	if err != nil {
		t.Fatalf("PropertyHistogram() error: %v", err)
	}
	want := []HistogramBin{{Count: 1, Min: 0, Max: 1}, {Count: 1, Min: 1, Max: 2}, {Count: 2, Min: 2, Max: 3}}
	if !reflect.DeepEqual(bins, want) {
		t.Fatalf("expected %+v, got %+v", want, bins)
	}

	empty, err := s.PropertyHistogram("ds1", "volume", 0)
	if err != nil {
		t.Fatalf("PropertyHistogram() error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no bins for unknown property, got %+v", empty)
	}

	if err := s.AppendPropertyValues("ds1", "nope", map[string]float64{"area": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown annotation, got %v", err)
	}
}

func TestHistogram(t *testing.T) {
	bins := Histogram([]float64{5, 5, 5}, 4)
	if len(bins) != 1 || bins[0] != (HistogramBin{Count: 3, Min: 5, Max: 5}) {
		t.Fatalf("expected a single bin for constant values, got %+v", bins)
	}

	bins = Histogram([]float64{4, 0, 2, 1}, 2)
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if len(bins) != 2 || total != 4 {
		t.Fatalf("expected 2 bins covering 4 values, got %+v", bins)
	}
	if bins[0].Min != 0 || bins[1].Max != 4 {
		t.Fatalf("expected bins to span [0,4], got %+v", bins)
	}
}

func TestDeleteDataset(t *testing.T) {
	s := newTestStore(t)
	keep := point("ds2", 0, 0)
	for _, a := range []*annotation.Annotation{point("ds1", 0, 0), keep} {
		if err := s.CreateAnnotation(a); err != nil {
			t.Fatalf("CreateAnnotation() error: %v", err)
		}
	}
	if err := s.DeleteDataset("ds1"); err != nil {
		t.Fatalf("DeleteDataset() error: %v", err)
	}
	if anns, _ := s.ListAnnotations("ds1"); len(anns) != 0 {
		t.Fatalf("expected ds1 emptied, got %d", len(anns))
	}
	if anns, _ := s.ListAnnotations("ds2"); len(anns) != 1 {
		t.Fatalf("expected ds2 untouched, got %d", len(anns))
	}
}
