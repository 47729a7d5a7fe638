package api

import (
	"sort"

	"github.com/contrast-tiles/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DatasetRegistry holds the view services of all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.ViewService
	defaultDataset string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.ViewService),
		defaultDataset: defaultDataset,
		title:          title,
	}
}

// Register adds the view service of a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.ViewService) {
	r.services[datasetID] = svc
}

// Get returns the view service of a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.ViewService {
	return r.services[datasetID]
}

// DefaultDatasetID returns the default dataset ID, falling back to the first
// registered one.
func (r *DatasetRegistry) DefaultDatasetID() string {
	if _, ok := r.services[r.defaultDataset]; ok {
		return r.defaultDataset
	}
	if ids := r.DatasetIDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// DatasetIDs returns all dataset IDs in sorted order.
func (r *DatasetRegistry) DatasetIDs() []string {
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Contrast-Tiles"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	ids := r.DatasetIDs()
	infos := make([]DatasetInfo, 0, len(ids))
	for _, id := range ids {
		name := r.services[id].Dataset().Name
		if name == "" {
			name = id
		}
		infos = append(infos, DatasetInfo{ID: id, Name: name})
	}
	return infos
}
