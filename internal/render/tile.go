// Package render draws annotation overlay tiles using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
	"github.com/contrast-tiles/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize    int
	PointRadius float64
	LineWidth   float64
}

// Overlay is what one tile shows: the visible annotations of a location,
// the committed region filters and the highlighted (selected) ids.
type Overlay struct {
	Annotations []annotation.Annotation
	ROIs        [][]geometry.Point
	Highlighted map[string]bool
}

// OverlayRenderer renders annotation overlays into PNG tiles.
type OverlayRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormap    colormap.CategoricalColormap
}

// NewOverlayRenderer creates a new overlay renderer.
func NewOverlayRenderer(cfg Config) *OverlayRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if cfg.PointRadius <= 0 {
		cfg.PointRadius = 4
	}
	if cfg.LineWidth <= 0 {
		cfg.LineWidth = 2
	}
	return &OverlayRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormap: colormap.Categorical,
	}
}

// TileSize returns the tile edge in pixels.
func (r *OverlayRenderer) TileSize() int {
	return r.config.TileSize
}

// TileSpan returns how many image pixels one tile edge covers at level.
func (r *OverlayRenderer) TileSpan(level int) float64 {
	return float64(r.config.TileSize) * math.Pow(2, float64(level))
}

// tileView maps image coordinates to tile pixels.
type tileView struct {
	originX, originY float64
	scale            float64
	size             float64
}

func (v tileView) project(p geometry.Point) (float64, float64) {
	return (p.X - v.originX) * v.scale, (p.Y - v.originY) * v.scale
}

// intersects reports whether the bounding box of points, padded by pad tile
// pixels, overlaps the tile.
func (v tileView) intersects(points []geometry.Point, pad float64) bool {
	if len(points) == 0 {
		return false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		x, y := v.project(p)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return maxX >= -pad && maxY >= -pad && minX <= v.size+pad && minY <= v.size+pad
}

// RenderOverlay renders tile (tileX, tileY) of the given zoom level. Level 0
// is full resolution; each level up halves it.
func (r *OverlayRenderer) RenderOverlay(o Overlay, level, tileX, tileY int) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.Identity()
	dc.SetDash()
	dc.SetRGBA(0, 0, 0, 0)
	dc.Clear()

	span := r.TileSpan(level)
	view := tileView{
		originX: float64(tileX) * span,
		originY: float64(tileY) * span,
		scale:   float64(r.config.TileSize) / span,
		size:    float64(r.config.TileSize),
	}
	pad := r.config.PointRadius + r.config.LineWidth

	for _, a := range o.Annotations {
		if !view.intersects(a.Coordinates, pad) {
			continue
		}
		r.drawAnnotation(dc, view, a, o.Highlighted[a.ID])
	}

	dc.SetRGBA(1, 1, 1, 0.9)
	dc.SetLineWidth(r.config.LineWidth)
	dc.SetDash(6, 4)
	for _, roi := range o.ROIs {
		if len(roi) < 3 || !view.intersects(roi, pad) {
			continue
		}
		tracePath(dc, view, roi, true)
		dc.Stroke()
	}
	dc.SetDash()

	return r.encodeContext(dc)
}

func (r *OverlayRenderer) annotationColor(a annotation.Annotation) color.Color {
	if len(a.Tags) == 0 {
		return r.colormap.AtIndex(0)
	}
	return r.colormap.AtIndex(colormap.TagIndex(a.Tags[0]))
}

func (r *OverlayRenderer) drawAnnotation(dc *gg.Context, view tileView, a annotation.Annotation, highlighted bool) {
	c := r.annotationColor(a)
	width := r.config.LineWidth
	if highlighted {
		width *= 2
	}

	switch a.Shape {
	case annotation.ShapePoint:
		x, y := view.project(a.Coordinates[0])
		dc.DrawCircle(x, y, r.config.PointRadius)
		dc.SetColor(c)
		if highlighted {
			dc.FillPreserve()
			dc.SetRGB(1, 1, 1)
			dc.SetLineWidth(width)
			dc.Stroke()
			return
		}
		dc.Fill()
	case annotation.ShapeLine:
		tracePath(dc, view, a.Coordinates, false)
		dc.SetColor(c)
		dc.SetLineWidth(width)
		dc.Stroke()
	case annotation.ShapePolygon:
		tracePath(dc, view, a.Coordinates, true)
		rc, gc, bc, _ := c.RGBA()
		dc.SetRGBA(float64(rc)/0xffff, float64(gc)/0xffff, float64(bc)/0xffff, 0.3)
		dc.FillPreserve()
		dc.SetColor(c)
		dc.SetLineWidth(width)
		dc.Stroke()
	}
}

func tracePath(dc *gg.Context, view tileView, points []geometry.Point, closed bool) {
	dc.NewSubPath()
	for i, p := range points {
		x, y := view.project(p)
		if i == 0 {
			dc.MoveTo(x, y)
			continue
		}
		dc.LineTo(x, y)
	}
	if closed {
		dc.ClosePath()
	}
}

func (r *OverlayRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// buf is reused
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *OverlayRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
