package display

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/contrast-tiles/server/pkg/colormap"
)

// ContrastMode selects how black and white points are interpreted.
type ContrastMode string

const (
	ContrastAbsolute   ContrastMode = "absolute"
	ContrastPercentile ContrastMode = "percentile"
)

// Contrast holds the black and white points of a layer. In percentile mode
// both points are in [0, 100].
type Contrast struct {
	Mode       ContrastMode `json:"mode"`
	BlackPoint float64      `json:"blackPoint"`
	WhitePoint float64      `json:"whitePoint"`
}

// Bound is a tile value range endpoint: either a number or one of the
// sentinels "min"/"max", meaning the tile's own data range.
type Bound struct {
	value    float64
	sentinel string
}

var (
	BoundMin = Bound{sentinel: "min"}
	BoundMax = Bound{sentinel: "max"}
)

// BoundValue returns a numeric bound.
func BoundValue(v float64) Bound { return Bound{value: v} }

// Sentinel returns "min" or "max" for sentinel bounds and "" otherwise.
func (b Bound) Sentinel() string { return b.sentinel }

// Value returns the numeric value; it is 0 for sentinels.
func (b Bound) Value() float64 { return b.value }

func (b Bound) String() string {
	if b.sentinel != "" {
		return b.sentinel
	}
	return strconv.FormatFloat(b.value, 'g', -1, 64)
}

func (b Bound) MarshalJSON() ([]byte, error) {
	if b.sentinel != "" {
		return json.Marshal(b.sentinel)
	}
	return json.Marshal(b.value)
}

func (b *Bound) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "min", "max", "auto":
			*b = Bound{sentinel: s}
			return nil
		}
		return fmt.Errorf("invalid bound %q", s)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid bound: %w", err)
	}
	*b = Bound{value: v}
	return nil
}

// Band is one composited frame of a max-merge layer.
type Band struct {
	Frame   int      `json:"frame"`
	Min     Bound    `json:"min"`
	Max     Bound    `json:"max"`
	Palette []string `json:"palette"`
}

// TileStyle is either a simple value-range style or, when Bands is non-nil,
// a list of composited bands.
type TileStyle struct {
	Min     Bound
	Max     Bound
	Palette []string
	Bands   []Band
}

// Composite reports whether the style is in band-list form.
func (s TileStyle) Composite() bool { return s.Bands != nil }

func (s TileStyle) MarshalJSON() ([]byte, error) {
	if s.Composite() {
		return json.Marshal(struct {
			Bands []Band `json:"bands"`
		}{s.Bands})
	}
	return json.Marshal(struct {
		Min     Bound    `json:"min"`
		Max     Bound    `json:"max"`
		Palette []string `json:"palette"`
	}{s.Min, s.Max, s.Palette})
}

// palette samples steps colors from black to the given color. Unparseable
// colors ramp to white.
func palette(c string, steps int) []string {
	rgba, err := colormap.Parse(c)
	if err != nil {
		rgba, _ = colormap.Parse("#ffffff")
	}
	return colormap.Ramp(rgba).Samples(steps)
}

// roundPercentile maps p in [0, 100] onto [lo, hi], rounding half up.
func roundPercentile(p, lo, hi float64) float64 {
	t := p / 100
	return math.Floor(lo*(1-t) + hi*t + 0.5)
}

// ResolveStyle builds the tile style for a layer color and contrast. The
// histogram is optional; layer, ds and image are only needed to expand
// max-merge axes into composited bands.
func ResolveStyle(color string, contrast Contrast, hist *Histogram, layer *DisplayLayer, ds *Dataset, image *Image) TileStyle {
	// Only the endpoints are used downstream, so two stops suffice.
	p := palette(color, 2)
	if contrast.Mode == ContrastAbsolute {
		return TileStyle{
			Min:     BoundValue(contrast.BlackPoint),
			Max:     BoundValue(contrast.WhitePoint),
			Palette: p,
		}
	}

	style := TileStyle{Min: BoundMin, Max: BoundMax, Palette: p}
	if hist != nil {
		style.Min = BoundValue(roundPercentile(contrast.BlackPoint, hist.Min, hist.Max))
		style.Max = BoundValue(roundPercentile(contrast.WhitePoint, hist.Min, hist.Max))
	}

	if layer == nil || ds == nil || image == nil {
		return style
	}
	mmxy := layer.XY.Type == SliceMaxMerge
	mmt := layer.Time.Type == SliceMaxMerge
	mmz := layer.Z.Type == SliceMaxMerge
	if !mmxy && !mmt && !mmz {
		return style
	}

	nxy, nt, nz := 1, 1, 1
	if mmxy {
		nxy = len(ds.XY)
	}
	if mmt {
		nt = len(ds.Time)
	}
	if mmz {
		nz = len(ds.Z)
	}

	composite := make([]Band, 0, nxy*nt*nz)
	for xyi := 0; xyi < nxy; xyi++ {
		xy := image.Key.XY
		if mmxy {
			xy = ds.XY[xyi]
		}
		for ti := 0; ti < nt; ti++ {
			t := image.Key.T
			if mmt {
				t = ds.Time[ti]
			}
			for zi := 0; zi < nz; zi++ {
				z := image.Key.Z
				if mmz {
					z = ds.Z[zi]
				}
				frames := ds.Images(z, t, xy, image.Key.C)
				if image.KeyOffset < 0 || image.KeyOffset >= len(frames) {
					continue
				}
				composite = append(composite, Band{
					Frame:   frames[image.KeyOffset].FrameIndex,
					Min:     style.Min,
					Max:     style.Max,
					Palette: style.Palette,
				})
			}
		}
	}
	return TileStyle{Bands: composite}
}
