// Package service holds the per-dataset view state and the compute workers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/contrast-tiles/server/internal/annostore"
	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/cache"
	"github.com/contrast-tiles/server/internal/dataset"
	"github.com/contrast-tiles/server/internal/display"
	"github.com/contrast-tiles/server/internal/filter"
	"github.com/contrast-tiles/server/internal/geometry"
	"github.com/contrast-tiles/server/internal/render"
)

// Viewport is the current coordinate of the viewer.
type Viewport struct {
	XY   int `json:"xy"`
	Z    int `json:"z"`
	Time int `json:"time"`
}

// Location returns the annotation location of the viewport.
func (v Viewport) Location() annotation.Location {
	return annotation.Location{XY: v.XY, Z: v.Z, Time: v.Time}
}

// ViewServiceConfig contains view service configuration.
type ViewServiceConfig struct {
	DatasetID string
	Reader    *dataset.Reader
	Store     *annostore.Store
	Cache     *cache.Manager
	Renderer  *render.OverlayRenderer
}

// ViewService is the single writer of a dataset's view state. Readers get
// snapshots; every mutation replaces the affected snapshot wholesale.
type ViewService struct {
	datasetID string
	reader    *dataset.Reader
	store     *annostore.Store
	cache     *cache.Manager
	renderer  *render.OverlayRenderer

	mu          sync.RWMutex
	dataset     *display.Dataset
	layers      []display.DisplayLayer
	annotations []annotation.Annotation
	connections []annotation.Connection
	values      annotation.PropertyValues
	filters     filter.Set
	selected    []string
	active      []string
	hovered     string
	histograms  map[string][]annostore.HistogramBin

	// annotationRev changes with annotations or property values; viewRev
	// additionally changes with filters and selection.
	annotationRev uint64
	valuesRev     uint64
	viewRev       uint64
}

// NewViewService creates a view service and loads the dataset's records.
func NewViewService(cfg ViewServiceConfig) (*ViewService, error) {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = cfg.Reader.Dataset().ID
	}
	ds := cfg.Reader.Dataset()
	ds.ID = datasetID

	s := &ViewService{
		datasetID:  datasetID,
		reader:     cfg.Reader,
		store:      cfg.Store,
		cache:      cfg.Cache,
		renderer:   cfg.Renderer,
		dataset:    ds,
		layers:     cfg.Reader.Layers(),
		filters:    filter.NewSet(),
		selected:   []string{},
		active:     []string{},
		histograms: make(map[string][]annostore.HistogramBin),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// DatasetID returns the dataset id.
func (s *ViewService) DatasetID() string {
	return s.datasetID
}

// Dataset returns the display dataset.
func (s *ViewService) Dataset() *display.Dataset {
	return s.dataset
}

// Reader returns the dataset reader.
func (s *ViewService) Reader() *dataset.Reader {
	return s.reader
}

// Store returns the annotation store.
func (s *ViewService) Store() *annostore.Store {
	return s.store
}

// Reload replaces the annotation, connection and property value snapshots
// with the stored records. Annotations not seen before start active.
func (s *ViewService) Reload() error {
	anns, err := s.store.ListAnnotations(s.datasetID)
	if err != nil {
		return fmt.Errorf("failed to list annotations: %w", err)
	}
	conns, err := s.store.ListConnections(s.datasetID)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	values, err := s.store.PropertyValues(s.datasetID)
	if err != nil {
		return fmt.Errorf("failed to load property values: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations = anns
	s.connections = conns
	s.values = values
	s.active = carryActive(s.active, s.annotations, anns)
	s.selected = keepKnown(s.selected, anns)
	s.annotationRev++
	s.valuesRev++
	s.viewRev++
	return nil
}

func carryActive(active []string, prev, next []annotation.Annotation) []string {
	seen := make(map[string]bool, len(prev))
	for _, a := range prev {
		seen[a.ID] = true
	}
	out := keepKnown(active, next)
	for _, a := range next {
		if !seen[a.ID] {
			out = append(out, a.ID)
		}
	}
	return out
}

func keepKnown(ids []string, anns []annotation.Annotation) []string {
	known := make(map[string]bool, len(anns))
	for _, a := range anns {
		known[a.ID] = true
	}
	out := []string{}
	for _, id := range ids {
		if known[id] {
			out = append(out, id)
		}
	}
	return out
}

// Annotations returns the current annotation snapshot.
func (s *ViewService) Annotations() []annotation.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotations
}

// Connections returns the current connection snapshot.
func (s *ViewService) Connections() []annotation.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections
}

// PropertyValues returns the current property value snapshot.
func (s *ViewService) PropertyValues() annotation.PropertyValues {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

// CreateAnnotations stores new annotations of this dataset and adds them,
// active, to the snapshot.
func (s *ViewService) CreateAnnotations(anns []*annotation.Annotation) ([]annotation.Annotation, error) {
	for _, a := range anns {
		a.DatasetID = s.datasetID
	}
	if _, err := s.store.CreateAnnotations(anns); err != nil {
		return nil, err
	}

	created := make([]annotation.Annotation, len(anns))
	for i, a := range anns {
		created[i] = *a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]annotation.Annotation, 0, len(s.annotations)+len(created))
	next = append(next, s.annotations...)
	s.annotations = append(next, created...)
	active := make([]string, 0, len(s.active)+len(created))
	active = append(active, s.active...)
	s.active = append(active, annotation.IDs(created)...)
	s.annotationRev++
	s.viewRev++
	return created, nil
}

// UpdateAnnotation replaces an annotation record.
func (s *ViewService) UpdateAnnotation(a annotation.Annotation) error {
	a.DatasetID = s.datasetID
	if err := s.store.UpdateAnnotation(&a); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]annotation.Annotation, len(s.annotations))
	copy(next, s.annotations)
	for i := range next {
		if next[i].ID == a.ID {
			next[i] = a
		}
	}
	s.annotations = next
	s.annotationRev++
	s.viewRev++
	return nil
}

// DeleteAnnotations removes annotations, their connections and values.
func (s *ViewService) DeleteAnnotations(ids []string) (int64, error) {
	n, err := s.store.DeleteAnnotations(ids)
	if err != nil {
		return 0, err
	}
	if err := s.Reload(); err != nil {
		return n, err
	}
	return n, nil
}

// CreateConnection stores a connection between two annotations.
func (s *ViewService) CreateConnection(c annotation.Connection) (annotation.Connection, error) {
	c.DatasetID = s.datasetID
	if err := s.store.CreateConnection(&c); err != nil {
		return annotation.Connection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]annotation.Connection, 0, len(s.connections)+1)
	next = append(next, s.connections...)
	s.connections = append(next, c)
	return c, nil
}

// ConnectToNearest links each annotation to its closest neighbour.
func (s *ViewService) ConnectToNearest(req annostore.NearestRequest) ([]annotation.Connection, error) {
	conns, err := s.store.ConnectToNearest(req)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]annotation.Connection, 0, len(s.connections)+len(conns))
	next = append(next, s.connections...)
	s.connections = append(next, conns...)
	return conns, nil
}

// AppendPropertyValues stores computed values for several annotations.
func (s *ViewService) AppendPropertyValues(values annotation.PropertyValues) error {
	for annotationID, props := range values {
		if err := s.store.AppendPropertyValues(s.datasetID, annotationID, props); err != nil {
			return fmt.Errorf("annotation %s: %w", annotationID, err)
		}
	}
	return s.ReloadPropertyValues()
}

// ReloadPropertyValues replaces the property value snapshot.
func (s *ViewService) ReloadPropertyValues() error {
	values, err := s.store.PropertyValues(s.datasetID)
	if err != nil {
		return fmt.Errorf("failed to load property values: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	s.valuesRev++
	s.annotationRev++
	s.viewRev++
	return nil
}

// Layers returns the display layers.
func (s *ViewService) Layers() []display.DisplayLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers
}

// SetLayers replaces the display layers.
func (s *ViewService) SetLayers(layers []display.DisplayLayer) error {
	for i, l := range layers {
		if l.Channel < 0 || l.Channel >= len(s.dataset.Channels) {
			return fmt.Errorf("layer %d: channel index %d out of range", i, l.Channel)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = append([]display.DisplayLayer(nil), layers...)
	return nil
}

func (s *ViewService) layer(i int) (display.DisplayLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.layers) {
		return display.DisplayLayer{}, fmt.Errorf("layer %d out of range", i)
	}
	return s.layers[i], nil
}

// LayerIndexes resolves the slice indexes of a layer at the viewport. The
// bool is false when the layer has nothing to show there.
func (s *ViewService) LayerIndexes(layerIndex int, vp Viewport) (display.SliceIndexes, bool, error) {
	l, err := s.layer(layerIndex)
	if err != nil {
		return display.SliceIndexes{}, false, err
	}
	idx, ok := display.ResolveIndexes(l, s.dataset, vp.Time, vp.XY, vp.Z)
	return idx, ok, nil
}

// LayerImages returns the images a layer shows at the viewport.
func (s *ViewService) LayerImages(layerIndex int, vp Viewport) ([]display.Image, error) {
	l, err := s.layer(layerIndex)
	if err != nil {
		return nil, err
	}
	return display.LayerImages(l, s.dataset, vp.Time, vp.XY, vp.Z), nil
}

// LayerStyle resolves the tile style of a layer at the viewport, merging
// the given histograms for percentile contrast.
func (s *ViewService) LayerStyle(layerIndex int, vp Viewport, histograms []display.Histogram) (display.TileStyle, bool, error) {
	l, err := s.layer(layerIndex)
	if err != nil {
		return display.TileStyle{}, false, err
	}
	images := display.LayerImages(l, s.dataset, vp.Time, vp.XY, vp.Z)
	if len(images) == 0 {
		return display.TileStyle{}, false, nil
	}

	var hist *display.Histogram
	if len(histograms) > 0 {
		merged := display.MergeHistograms(histograms)
		hist = &merged
	}
	image := images[0]
	return display.ResolveStyle(l.Color, l.Contrast, hist, &l, s.dataset, &image), true, nil
}

// Filters returns the current filter set.
func (s *ViewService) Filters() filter.Set {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// UpdateFilters replaces the filter set with fn applied to it.
func (s *ViewService) UpdateFilters(fn func(filter.Set) filter.Set) filter.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = fn(s.filters)
	s.viewRev++
	return s.filters
}

// SelectionAsFilter turns the current selection into the selection filter.
func (s *ViewService) SelectionAsFilter() filter.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = s.filters.SelectAsFilter(s.selected)
	s.viewRev++
	return s.filters
}

// VisibleAnnotations returns the annotations accepted by the filters.
func (s *ViewService) VisibleAnnotations() []annotation.Annotation {
	s.mu.RLock()
	anns, set, values, rev := s.annotations, s.filters, s.values, s.annotationRev
	s.mu.RUnlock()

	filtersJSON, err := json.Marshal(set)
	if err != nil {
		log.Printf("[ViewService] failed to encode filters: %v", err)
		return filter.Visible(anns, set, values, nil)
	}
	key := cache.VisibleKey(s.datasetID, filtersJSON, rev)

	if data, ok := s.cache.GetQuery(key); ok {
		var ids []string
		if err := json.Unmarshal(data, &ids); err == nil {
			return pick(anns, ids)
		}
	}

	visible := filter.Visible(anns, set, values, nil)
	if data, err := json.Marshal(annotation.IDs(visible)); err == nil {
		s.cache.SetQuery(key, data)
	}
	return visible
}

func pick(anns []annotation.Annotation, ids []string) []annotation.Annotation {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]annotation.Annotation, 0, len(ids))
	for _, a := range anns {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// OverlayTile renders the visible annotations drawn at the viewport.
func (s *ViewService) OverlayTile(level, x, y int, vp Viewport) ([]byte, error) {
	s.mu.RLock()
	rev := s.viewRev
	s.mu.RUnlock()

	key := cache.OverlayTileKey(s.datasetID, level, x, y, vp.XY, vp.Z, vp.Time, rev)
	if data, ok := s.cache.GetTile(key); ok {
		return data, nil
	}

	loc := vp.Location()
	var here []annotation.Annotation
	for _, a := range s.VisibleAnnotations() {
		if a.Location == loc {
			here = append(here, a)
		}
	}

	set := s.Filters()
	rois := make([][]geometry.Point, 0, len(set.ROIs))
	for _, f := range set.ROIs {
		if f.Enabled {
			rois = append(rois, f.ROI)
		}
	}

	data, err := s.renderer.RenderOverlay(render.Overlay{
		Annotations: here,
		ROIs:        rois,
		Highlighted: s.selectedSet(),
	}, level, x, y)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetTile(key, data); err != nil {
		log.Printf("[ViewService] failed to cache overlay tile %s: %v", key, err)
	}
	return data, nil
}

// EmptyTile returns a transparent tile.
func (s *ViewService) EmptyTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile()
}

func (s *ViewService) selectedSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]bool, len(s.selected))
	for _, id := range s.selected {
		set[id] = true
	}
	return set
}

// SetSelected replaces the selection.
func (s *ViewService) SetSelected(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append([]string{}, ids...)
	s.viewRev++
}

// Selected returns the selected annotation ids.
func (s *ViewService) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SetHovered records the annotation under the pointer; "" clears it.
func (s *ViewService) SetHovered(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hovered = id
}

// Hovered returns the hovered annotation id.
func (s *ViewService) Hovered() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hovered
}

// ToggleActive activates the inactive ids and deactivates the active ones.
func (s *ViewService) ToggleActive(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasActive := make(map[string]bool, len(s.active))
	for _, id := range s.active {
		wasActive[id] = true
	}
	toggled := make(map[string]bool, len(ids))
	for _, id := range ids {
		toggled[id] = true
	}

	next := make([]string, 0, len(s.active)+len(ids))
	for _, id := range s.active {
		if !toggled[id] {
			next = append(next, id)
		}
	}
	for _, id := range ids {
		if !wasActive[id] {
			next = append(next, id)
			wasActive[id] = true
		}
	}
	s.active = next
	return s.active
}

// ActiveIDs returns the active annotation ids.
func (s *ViewService) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// InactiveAnnotationIDs returns the ids of annotations that are not active,
// in annotation order.
func (s *ViewService) InactiveAnnotationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := make(map[string]bool, len(s.active))
	for _, id := range s.active {
		active[id] = true
	}
	out := []string{}
	for _, a := range s.annotations {
		if !active[a.ID] {
			out = append(out, a.ID)
		}
	}
	return out
}

// DeleteSelected deletes the selected annotations and clears the selection.
func (s *ViewService) DeleteSelected() (int64, error) {
	ids := s.Selected()
	n, err := s.DeleteAnnotations(ids)
	if err != nil {
		return n, err
	}
	s.SetSelected(nil)
	return n, nil
}

// DeleteInactive deletes every inactive annotation.
func (s *ViewService) DeleteInactive() (int64, error) {
	return s.DeleteAnnotations(s.InactiveAnnotationIDs())
}

// AnnotationLocationFromTool derives where and on which channel a tool
// places new annotations. Without layers, or without a usable layer
// assignment, the raw viewport and channel 0 are used.
func (s *ViewService) AnnotationLocationFromTool(tool Tool, vp Viewport) (annotation.Location, int) {
	loc := vp.Location()
	layers := s.Layers()
	if len(layers) == 0 || tool.Annotation == nil {
		return loc, 0
	}

	assign := tool.Annotation.CoordinateAssignments
	if assign.Layer < 0 || assign.Layer >= len(layers) {
		return loc, 0
	}
	l := layers[assign.Layer]

	idx, ok := display.ResolveIndexes(l, s.dataset, vp.Time, vp.XY, vp.Z)
	if !ok {
		return loc, l.Channel
	}
	loc.XY = idx.XY
	loc.Z = assign.Z.resolve(idx.Z)
	loc.Time = assign.Time.resolve(idx.T)
	return loc, l.Channel
}

// Histograms returns the last fetched histograms by property id.
func (s *ViewService) Histograms() map[string][]annostore.HistogramBin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]annostore.HistogramBin, len(s.histograms))
	for k, v := range s.histograms {
		out[k] = v
	}
	return out
}

// PropertyHistogram returns the histogram of one property, served from the
// query cache while the property values are unchanged.
func (s *ViewService) PropertyHistogram(propertyID string, buckets int) ([]annostore.HistogramBin, error) {
	if buckets <= 0 {
		buckets = annostore.DefaultHistogramBuckets
	}
	s.mu.RLock()
	rev := s.valuesRev
	s.mu.RUnlock()

	key := cache.HistogramKey(s.datasetID, propertyID, buckets, rev)
	if data, ok := s.cache.GetQuery(key); ok {
		var bins []annostore.HistogramBin
		if err := json.Unmarshal(data, &bins); err == nil {
			return bins, nil
		}
	}

	bins, err := s.store.PropertyHistogram(s.datasetID, propertyID, buckets)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(bins); err == nil {
		s.cache.SetQuery(key, data)
	}
	return bins, nil
}

// RefreshHistograms fetches the histogram of every tracked filter id
// concurrently and replaces the stored histograms.
func (s *ViewService) RefreshHistograms(ctx context.Context) (map[string][]annostore.HistogramBin, error) {
	ids := s.Filters().FilterIDs
	results := make([][]annostore.HistogramBin, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bins, err := s.PropertyHistogram(id, 0)
			if err != nil {
				return fmt.Errorf("histogram %s: %w", id, err)
			}
			results[i] = bins
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	next := make(map[string][]annostore.HistogramBin, len(ids))
	for i, id := range ids {
		next[id] = results[i]
	}
	s.mu.Lock()
	s.histograms = next
	s.mu.Unlock()
	return s.Histograms(), nil
}

// Assignment places one axis of a tool's annotations: "layer" takes the
// layer's resolved index, anything else the constant Value.
type Assignment struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (a Assignment) resolve(layerIndex int) int {
	if a.Type == "layer" {
		return layerIndex
	}
	v, err := strconv.Atoi(a.Value)
	if err != nil {
		return layerIndex
	}
	return v
}

// CoordinateAssignments maps a tool's annotations onto a layer.
type CoordinateAssignments struct {
	Layer int        `json:"layer"`
	Z     Assignment `json:"Z"`
	Time  Assignment `json:"Time"`
}

// ToolAnnotation describes the annotations a tool creates.
type ToolAnnotation struct {
	Shape                 annotation.Shape      `json:"shape"`
	Tags                  []string              `json:"tags"`
	CoordinateAssignments CoordinateAssignments `json:"coordinateAssignments"`
}

// Tool is an annotation or compute tool configuration.
type Tool struct {
	Name       string          `json:"name"`
	Type       string          `json:"type"`
	Annotation *ToolAnnotation `json:"annotation,omitempty"`
}
