// Package geometry provides the planar primitives used by annotation filters
// and property computation.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Point is a 2D image-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func toRing(points []Point) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// PointInPolygon reports whether p lies inside polygon or on its boundary.
// Polygons with fewer than three vertices contain nothing.
func PointInPolygon(p Point, polygon []Point) bool {
	if len(polygon) < 3 {
		return false
	}
	return planar.RingContains(toRing(polygon), orb.Point{p.X, p.Y})
}

// Centroid returns the area centroid of a polygon, or the mean of the points
// for degenerate shapes (single points, lines).
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	if len(points) >= 3 {
		c, area := planar.CentroidArea(orb.Polygon{toRing(points)})
		if area != 0 && !math.IsNaN(c[0]) && !math.IsNaN(c[1]) {
			return Point{X: c[0], Y: c[1]}
		}
	}
	var sx, sy float64
	for _, p := range points {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(points))
	return Point{X: sx / n, Y: sy / n}
}

// Area returns the unsigned area enclosed by the points.
func Area(points []Point) float64 {
	if len(points) < 3 {
		return 0
	}
	return math.Abs(planar.Area(orb.Polygon{toRing(points)}))
}

// Perimeter returns the closed-ring length for polygons and the path length
// otherwise.
func Perimeter(points []Point, closed bool) float64 {
	if len(points) < 2 {
		return 0
	}
	if closed {
		return planar.Length(toRing(points))
	}
	ls := make(orb.LineString, 0, len(points))
	for _, p := range points {
		ls = append(ls, orb.Point{p.X, p.Y})
	}
	return planar.Length(ls)
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Point) float64 {
	return planar.Distance(orb.Point{a.X, a.Y}, orb.Point{b.X, b.Y})
}
