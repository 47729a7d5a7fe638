// Package display resolves how a layer of a multi-dimensional image stack is
// sliced and colorized at a given viewport coordinate.
package display

// SliceType is the per-axis slicing policy of a display layer.
type SliceType string

const (
	SliceConstant SliceType = "constant"
	SliceOffset   SliceType = "offset"
	SliceMaxMerge SliceType = "max-merge"
)

// DisplaySlice is one axis policy of a layer. A nil Value counts as 0.
type DisplaySlice struct {
	Type  SliceType `json:"type"`
	Value *int      `json:"value"`
}

// DisplayLayer is one visual layer of the composite display.
type DisplayLayer struct {
	Name     string       `json:"name"`
	Color    string       `json:"color"`
	Channel  int          `json:"channel"`
	XY       DisplaySlice `json:"xy"`
	Z        DisplaySlice `json:"z"`
	Time     DisplaySlice `json:"time"`
	Contrast Contrast     `json:"contrast"`
	Visible  bool         `json:"visible"`
}

// ImageKey is the coordinate of a frame in the dataset.
type ImageKey struct {
	XY int `json:"xy"`
	Z  int `json:"z"`
	T  int `json:"t"`
	C  int `json:"c"`
}

// Image is one frame of the dataset. KeyOffset distinguishes frames that
// share the same coordinate.
type Image struct {
	Key        ImageKey `json:"key"`
	KeyOffset  int      `json:"keyOffset"`
	FrameIndex int      `json:"frameIndex"`
}

// ImageIndex looks up every image whose frame matches a coordinate.
type ImageIndex interface {
	Images(z, t, xy, c int) []Image
}

// Dataset holds the ordered axis values of an image stack and its image index.
type Dataset struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	XY       []int      `json:"xy"`
	Z        []int      `json:"z"`
	Time     []int      `json:"time"`
	Channels []int      `json:"channels"`
	Index    ImageIndex `json:"-"`
}

// Images forwards to the dataset's image index.
func (ds *Dataset) Images(z, t, xy, c int) []Image {
	if ds == nil || ds.Index == nil {
		return nil
	}
	return ds.Index.Images(z, t, xy, c)
}

// SliceIndexes are concrete per-axis indexes into a dataset.
type SliceIndexes struct {
	XY int `json:"xyIndex"`
	Z  int `json:"zIndex"`
	T  int `json:"tIndex"`
}

func resolveSlice(slice DisplaySlice, value int) int {
	switch slice.Type {
	case SliceConstant:
		if slice.Value == nil {
			return 0
		}
		return *slice.Value
	case SliceOffset:
		if slice.Value == nil {
			return value
		}
		return value + *slice.Value
	default:
		// max-merge is expanded by ResolveStyle; here it passes through.
		return value
	}
}

func resolveAxis(slice DisplaySlice, values []int, current int) (int, bool) {
	idx := 0
	if len(values) > 1 {
		idx = resolveSlice(slice, current)
	}
	if idx < 0 || idx >= len(values) {
		return 0, false
	}
	return idx, true
}

// ResolveIndexes maps a layer's slicing policy onto dataset indexes for the
// viewport coordinate (time, xy, z). It reports false when any axis falls
// outside the dataset, in which case nothing should be drawn for the layer.
func ResolveIndexes(layer DisplayLayer, ds *Dataset, time, xy, z int) (SliceIndexes, bool) {
	if ds == nil {
		return SliceIndexes{}, false
	}
	xyIndex, ok := resolveAxis(layer.XY, ds.XY, xy)
	if !ok {
		return SliceIndexes{}, false
	}
	zIndex, ok := resolveAxis(layer.Z, ds.Z, z)
	if !ok {
		return SliceIndexes{}, false
	}
	tIndex, ok := resolveAxis(layer.Time, ds.Time, time)
	if !ok {
		return SliceIndexes{}, false
	}
	return SliceIndexes{XY: xyIndex, Z: zIndex, T: tIndex}, true
}

// LayerImages returns the images a layer shows at the viewport coordinate.
func LayerImages(layer DisplayLayer, ds *Dataset, time, xy, z int) []Image {
	idx, ok := ResolveIndexes(layer, ds, time, xy, z)
	if !ok {
		return nil
	}
	if layer.Channel < 0 || layer.Channel >= len(ds.Channels) {
		return nil
	}
	return ds.Images(ds.Z[idx.Z], ds.Time[idx.T], ds.XY[idx.XY], ds.Channels[layer.Channel])
}

// FrameIndex is an in-memory ImageIndex over an ordered list of frames.
type FrameIndex struct {
	byKey map[ImageKey][]Image
	count int
}

// NewFrameIndex indexes frames in order; frame i gets FrameIndex i and frames
// sharing a key get increasing offsets.
func NewFrameIndex(frames []ImageKey) *FrameIndex {
	fi := &FrameIndex{byKey: make(map[ImageKey][]Image, len(frames))}
	for _, key := range frames {
		fi.Add(key)
	}
	return fi
}

// Add appends a frame and returns its image.
func (fi *FrameIndex) Add(key ImageKey) Image {
	img := Image{
		Key:        key,
		KeyOffset:  len(fi.byKey[key]),
		FrameIndex: fi.count,
	}
	fi.byKey[key] = append(fi.byKey[key], img)
	fi.count++
	return img
}

// Len returns the number of frames.
func (fi *FrameIndex) Len() int { return fi.count }

// Images implements ImageIndex.
func (fi *FrameIndex) Images(z, t, xy, c int) []Image {
	return fi.byKey[ImageKey{XY: xy, Z: z, T: t, C: c}]
}
