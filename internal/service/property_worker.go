package service

import (
	"context"
	"fmt"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
	"github.com/contrast-tiles/server/internal/jobstore"
)

// Property ids computed by the geometry tool.
const (
	PropertyArea       = "area"
	PropertyPerimeter  = "perimeter"
	PropertyPointCount = "point_count"
	PropertyCentroidX  = "centroid_x"
	PropertyCentroidY  = "centroid_y"
)

// GeometryTool is the tool name of the built-in geometry property job.
const GeometryTool = "geometry"

// AllProperties lists the property ids the geometry tool can compute.
var AllProperties = []string{
	PropertyArea,
	PropertyPerimeter,
	PropertyPointCount,
	PropertyCentroidX,
	PropertyCentroidY,
}

const progressBatch = 100

// PropertyWorker computes annotation property values for jobs.
type PropertyWorker struct {
	registry datasetLookup
}

// datasetLookup finds the view service of a dataset.
type datasetLookup interface {
	Get(datasetID string) *ViewService
}

// NewPropertyWorker creates a new property worker.
func NewPropertyWorker(registry datasetLookup) *PropertyWorker {
	return &PropertyWorker{registry: registry}
}

// ExecuteJob runs a property job (called by JobManager worker).
func (w *PropertyWorker) ExecuteJob(ctx context.Context, store *jobstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.Params.Tool != GeometryTool {
		return fmt.Errorf("unknown tool: %s", job.Params.Tool)
	}

	svc := w.registry.Get(job.Params.DatasetID)
	if svc == nil {
		return fmt.Errorf("dataset not found: %s", job.Params.DatasetID)
	}

	props := job.Params.Properties
	if len(props) == 0 {
		props = AllProperties
	}
	for _, p := range props {
		if !knownProperty(p) {
			return fmt.Errorf("unknown property: %s", p)
		}
	}

	var targets []annotation.Annotation
	for _, a := range svc.Annotations() {
		if len(job.Params.Tags) == 0 || hasAnyTag(a, job.Params.Tags) {
			targets = append(targets, a)
		}
	}

	total := len(targets)
	store.UpdateJobProgress(jobID, "computing", 0, total)

	batch := make(annotation.PropertyValues, progressBatch)
	for i, a := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch[a.ID] = ComputeProperties(a, props)

		if len(batch) == progressBatch || i == total-1 {
			if err := svc.AppendPropertyValues(batch); err != nil {
				return fmt.Errorf("failed to store property values: %w", err)
			}
			batch = make(annotation.PropertyValues, progressBatch)
			store.UpdateJobProgress(jobID, "computing", i+1, total)
		}
	}

	store.UpdateJobProgress(jobID, "done", total, total)
	return nil
}

// ComputeProperties returns the requested geometric properties of a.
func ComputeProperties(a annotation.Annotation, props []string) map[string]float64 {
	closed := a.Shape == annotation.ShapePolygon
	out := make(map[string]float64, len(props))
	for _, p := range props {
		switch p {
		case PropertyArea:
			if closed {
				out[p] = geometry.Area(a.Coordinates)
			} else {
				out[p] = 0
			}
		case PropertyPerimeter:
			out[p] = geometry.Perimeter(a.Coordinates, closed)
		case PropertyPointCount:
			out[p] = float64(len(a.Coordinates))
		case PropertyCentroidX:
			out[p] = geometry.Centroid(a.Coordinates).X
		case PropertyCentroidY:
			out[p] = geometry.Centroid(a.Coordinates).Y
		}
	}
	return out
}

func knownProperty(p string) bool {
	for _, known := range AllProperties {
		if p == known {
			return true
		}
	}
	return false
}

func hasAnyTag(a annotation.Annotation, tags []string) bool {
	for _, t := range tags {
		if a.HasTag(t) {
			return true
		}
	}
	return false
}
