package geometry

import (
	"math"
	"testing"
)

var square = []Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}

func TestPointInPolygon(t *testing.T) {
	tests := []struct {
		name    string
		p       Point
		polygon []Point
		want    bool
	}{
		{name: "inside", p: Point{5, 5}, polygon: square, want: true},
		{name: "outside", p: Point{15, 5}, polygon: square, want: false},
		{name: "boundary", p: Point{0, 5}, polygon: square, want: true},
		{name: "closedRing", p: Point{5, 5}, polygon: append(append([]Point{}, square...), square[0]), want: true},
		{name: "degenerate", p: Point{0, 0}, polygon: []Point{{0, 0}, {1, 1}}, want: false},
		{name: "empty", p: Point{0, 0}, polygon: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInPolygon(tt.p, tt.polygon); got != tt.want {
				t.Fatalf("PointInPolygon(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestAreaPerimeterCentroid(t *testing.T) {
	if got := Area(square); math.Abs(got-100) > 1e-9 {
		t.Errorf("expected area 100, got %v", got)
	}
	if got := Perimeter(square, true); math.Abs(got-40) > 1e-9 {
		t.Errorf("expected closed perimeter 40, got %v", got)
	}
	if got := Perimeter(square, false); math.Abs(got-30) > 1e-9 {
		t.Errorf("expected open length 30, got %v", got)
	}
	c := Centroid(square)
	if math.Abs(c.X-5) > 1e-9 || math.Abs(c.Y-5) > 1e-9 {
		t.Errorf("expected centroid (5,5), got %v", c)
	}
	if c := Centroid([]Point{{2, 4}}); c != (Point{2, 4}) {
		t.Errorf("expected point centroid (2,4), got %v", c)
	}
	if got := Area([]Point{{0, 0}, {1, 1}}); got != 0 {
		t.Errorf("expected zero area for a line, got %v", got)
	}
	if got := Distance(Point{0, 0}, Point{3, 4}); math.Abs(got-5) > 1e-9 {
		t.Errorf("expected distance 5, got %v", got)
	}
}
