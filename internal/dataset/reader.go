// Package dataset reads dataset descriptors: axis values, channels, the
// ordered frame list and the default display layers.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/contrast-tiles/server/internal/display"
)

const (
	descriptorName           = "dataset.json"
	compressedDescriptorName = "dataset.json.zst"
)

// ErrInvalid is returned for descriptors that fail validation.
var ErrInvalid = errors.New("invalid dataset descriptor")

// Descriptor is the on-disk description of a dataset.
type Descriptor struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	XY           []int                  `json:"xy"`
	Z            []int                  `json:"z"`
	Time         []int                  `json:"time"`
	Channels     []int                  `json:"channels"`
	ChannelNames map[string]string      `json:"channel_names,omitempty"`
	Frames       []display.ImageKey     `json:"frames"`
	Layers       []display.DisplayLayer `json:"layers"`
	TileWidth    int                    `json:"tile_width,omitempty"`
	TileHeight   int                    `json:"tile_height,omitempty"`
}

// Reader loads descriptors from a dataset directory.
type Reader struct {
	basePath   string
	descriptor *Descriptor
	dataset    *display.Dataset
}

// NewReader reads and validates the descriptor under basePath. The
// compressed form is used when the plain one is absent.
func NewReader(basePath string) (*Reader, error) {
	data, err := readDescriptor(basePath)
	if err != nil {
		return nil, err
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", descriptorName, err)
	}
	if desc.ID == "" {
		desc.ID = filepath.Base(basePath)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return &Reader{
		basePath:   basePath,
		descriptor: &desc,
		dataset:    desc.Dataset(),
	}, nil
}

func readDescriptor(basePath string) ([]byte, error) {
	plain := filepath.Join(basePath, descriptorName)
	data, err := os.ReadFile(plain)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", descriptorName, err)
	}

	compressed, err := os.ReadFile(filepath.Join(basePath, compressedDescriptorName))
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset descriptor in %s: %w", basePath, err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	data, err = decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", compressedDescriptorName, err)
	}
	return data, nil
}

// Validate checks that every axis is non-empty and every frame coordinate is
// drawn from the axis values.
func (d *Descriptor) Validate() error {
	axes := []struct {
		name   string
		values []int
	}{
		{"xy", d.XY},
		{"z", d.Z},
		{"time", d.Time},
		{"channels", d.Channels},
	}
	sets := make(map[string]map[int]bool, len(axes))
	for _, axis := range axes {
		if len(axis.values) == 0 {
			return fmt.Errorf("%w: axis %s is empty", ErrInvalid, axis.name)
		}
		set := make(map[int]bool, len(axis.values))
		for _, v := range axis.values {
			set[v] = true
		}
		sets[axis.name] = set
	}

	for i, f := range d.Frames {
		switch {
		case !sets["xy"][f.XY]:
			return fmt.Errorf("%w: frame %d has unknown xy %d", ErrInvalid, i, f.XY)
		case !sets["z"][f.Z]:
			return fmt.Errorf("%w: frame %d has unknown z %d", ErrInvalid, i, f.Z)
		case !sets["time"][f.T]:
			return fmt.Errorf("%w: frame %d has unknown time %d", ErrInvalid, i, f.T)
		case !sets["channels"][f.C]:
			return fmt.Errorf("%w: frame %d has unknown channel %d", ErrInvalid, i, f.C)
		}
	}

	for i, l := range d.Layers {
		if l.Channel < 0 || l.Channel >= len(d.Channels) {
			return fmt.Errorf("%w: layer %d references channel index %d", ErrInvalid, i, l.Channel)
		}
	}
	return nil
}

// Dataset builds the display dataset with an in-memory frame index.
func (d *Descriptor) Dataset() *display.Dataset {
	return &display.Dataset{
		ID:       d.ID,
		Name:     d.Name,
		XY:       append([]int(nil), d.XY...),
		Z:        append([]int(nil), d.Z...),
		Time:     append([]int(nil), d.Time...),
		Channels: append([]int(nil), d.Channels...),
		Index:    display.NewFrameIndex(d.Frames),
	}
}

// Descriptor returns the parsed descriptor.
func (r *Reader) Descriptor() *Descriptor {
	return r.descriptor
}

// Dataset returns the display dataset.
func (r *Reader) Dataset() *display.Dataset {
	return r.dataset
}

// Layers returns a copy of the default display layers.
func (r *Reader) Layers() []display.DisplayLayer {
	return append([]display.DisplayLayer(nil), r.descriptor.Layers...)
}

// BasePath returns the dataset directory.
func (r *Reader) BasePath() string {
	return r.basePath
}

// ChannelName returns the display name of the channel at index c, falling
// back to "Channel {value}".
func (r *Reader) ChannelName(c int) string {
	if c < 0 || c >= len(r.descriptor.Channels) {
		return ""
	}
	value := r.descriptor.Channels[c]
	if name, ok := r.descriptor.ChannelNames[fmt.Sprint(value)]; ok {
		return name
	}
	return fmt.Sprintf("Channel %d", value)
}

// WriteCompressed writes desc as dataset.json.zst under dir.
func WriteCompressed(dir string, desc *Descriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	path := filepath.Join(dir, compressedDescriptorName)
	if err := os.WriteFile(path, encoder.EncodeAll(data, nil), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
