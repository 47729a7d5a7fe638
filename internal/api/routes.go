// Package api provides HTTP handlers for the contrast-tiles server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/contrast-tiles/server/internal/annostore"
	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/display"
	"github.com/contrast-tiles/server/internal/filter"
	"github.com/contrast-tiles/server/internal/geometry"
	"github.com/contrast-tiles/server/internal/jobstore"
	"github.com/contrast-tiles/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/tiles/overlay/{level}/{x}/{y}.png", overlayTileHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/metadata", metadataHandler)

			r.Get("/layers", layersHandler)
			r.Put("/layers", setLayersHandler)
			r.Get("/layers/{layer}/indexes", layerIndexesHandler)
			r.Post("/layers/{layer}/style", layerStyleHandler)

			r.Get("/annotations", annotationsHandler)
			r.Post("/annotations", createAnnotationsHandler)
			r.Delete("/annotations", deleteAnnotationsHandler)
			r.Get("/annotations/visible", visibleAnnotationsHandler)
			r.Put("/annotations/{id}", updateAnnotationHandler)

			r.Get("/connections", connectionsHandler)
			r.Post("/connections", createConnectionHandler)
			r.Post("/connections/nearest", connectNearestHandler)

			r.Get("/properties/values", propertyValuesHandler)
			r.Post("/properties/values", appendPropertyValuesHandler)
			r.Get("/properties/{property}/histogram", propertyHistogramHandler)

			r.Route("/filters", func(r chi.Router) {
				r.Get("/", filtersHandler)
				r.Put("/tag", setTagFilterHandler)
				r.Post("/tag/tags", addTagHandler)
				r.Put("/shape", setShapeFilterHandler)
				r.Put("/properties", updatePropertyFilterHandler)
				r.Post("/roi/draft", newROIFilterHandler)
				r.Delete("/roi/draft", cancelROIFilterHandler)
				r.Post("/roi/commit", commitROIFilterHandler)
				r.Delete("/roi/{id}", removeROIFilterHandler)
				r.Post("/roi/{id}/toggle", toggleROIFilterHandler)
				r.Post("/selection", selectionAsFilterHandler)
				r.Delete("/selection", clearSelectionFilterHandler)
				r.Post("/ids", addFilterIDHandler)
				r.Delete("/ids/{property}", removeFilterIDHandler)
				r.Post("/histograms/refresh", refreshHistogramsHandler)
			})

			r.Get("/selection", selectionHandler)
			r.Post("/selection", setSelectionHandler)
			r.Post("/hover", setHoverHandler)
			r.Post("/active/toggle", toggleActiveHandler)

			r.Post("/tools/location", toolLocationHandler)

			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", jobSubmitHandler(cfg.JobManager))
				r.Get("/", jobListHandler(cfg.JobManager))
				r.Get("/{job_id}", jobStatusHandler(cfg.JobManager))
				r.Delete("/{job_id}", jobCancelHandler(cfg.JobManager))
			})
		})
	})

	return r
}

type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects its view service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.ViewService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.ViewService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps store errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, annostore.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, annostore.ErrInvalidDocument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// viewportFromQuery reads xy, z and time; missing values are 0.
func viewportFromQuery(q url.Values) (service.Viewport, error) {
	var vp service.Viewport
	fields := []struct {
		name string
		dst  *int
	}{
		{"xy", &vp.XY},
		{"z", &vp.Z},
		{"time", &vp.Time},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(q.Get(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return vp, errors.New("invalid " + f.name)
		}
		*f.dst = v
	}
	return vp, nil
}

func pathString(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func overlayTileHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level < 0 {
		http.Error(w, "invalid level", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		http.Error(w, "invalid x", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		http.Error(w, "invalid y", http.StatusBadRequest)
		return
	}
	vp, err := viewportFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := svc.OverlayTile(level, x, y, vp)
	if err != nil {
		data, _ = svc.EmptyTile()
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

type channelInfo struct {
	Index int    `json:"index"`
	Value int    `json:"value"`
	Name  string `json:"name"`
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	desc := svc.Reader().Descriptor()
	channels := make([]channelInfo, len(desc.Channels))
	for i, c := range desc.Channels {
		channels[i] = channelInfo{Index: i, Value: c, Name: svc.Reader().ChannelName(i)}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          svc.DatasetID(),
		"name":        desc.Name,
		"xy":          desc.XY,
		"z":           desc.Z,
		"time":        desc.Time,
		"channels":    channels,
		"frames":      len(desc.Frames),
		"tile_width":  desc.TileWidth,
		"tile_height": desc.TileHeight,
		"layers":      svc.Layers(),
	})
}

func layersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).Layers())
}

func setLayersHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var layers []display.DisplayLayer
	if !decodeBody(w, r, &layers) {
		return
	}
	if err := svc.SetLayers(layers); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, svc.Layers())
}

func layerParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	layer, err := strconv.Atoi(chi.URLParam(r, "layer"))
	if err != nil {
		http.Error(w, "invalid layer", http.StatusBadRequest)
		return 0, false
	}
	return layer, true
}

func layerIndexesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	layer, ok := layerParam(w, r)
	if !ok {
		return
	}
	vp, err := viewportFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	idx, found, err := svc.LayerIndexes(layer, vp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

type layerStyleRequest struct {
	Viewport   service.Viewport    `json:"viewport"`
	Histograms []display.Histogram `json:"histograms"`
}

func layerStyleHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	layer, ok := layerParam(w, r)
	if !ok {
		return
	}
	var req layerStyleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	style, found, err := svc.LayerStyle(layer, req.Viewport, req.Histograms)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, style)
}

func annotationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).Annotations())
}

func visibleAnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).VisibleAnnotations())
}

func createAnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var anns []*annotation.Annotation
	if !decodeBody(w, r, &anns) {
		return
	}
	created, err := svc.CreateAnnotations(anns)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func updateAnnotationHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var a annotation.Annotation
	if !decodeBody(w, r, &a) {
		return
	}
	a.ID = chi.URLParam(r, "id")
	if err := svc.UpdateAnnotation(a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// deleteAnnotationsHandler deletes the ids in the body, or with
// ?scope=selected|inactive the selected or inactive annotations.
func deleteAnnotationsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)

	var (
		n   int64
		err error
	)
	switch scope := r.URL.Query().Get("scope"); scope {
	case "selected":
		n, err = svc.DeleteSelected()
	case "inactive":
		n, err = svc.DeleteInactive()
	case "":
		var req idsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		n, err = svc.DeleteAnnotations(req.IDs)
	default:
		http.Error(w, "invalid scope: "+scope, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

func connectionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).Connections())
}

func createConnectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var c annotation.Connection
	if !decodeBody(w, r, &c) {
		return
	}
	created, err := svc.CreateConnection(c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func connectNearestHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var req annostore.NearestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conns, err := svc.ConnectToNearest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conns)
}

func propertyValuesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).PropertyValues())
}

func appendPropertyValuesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var values annotation.PropertyValues
	if !decodeBody(w, r, &values) {
		return
	}
	if err := svc.AppendPropertyValues(values); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func propertyHistogramHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	buckets := 0
	if raw := r.URL.Query().Get("buckets"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "invalid buckets", http.StatusBadRequest)
			return
		}
		buckets = v
	}
	bins, err := svc.PropertyHistogram(pathString(r, "property"), buckets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bins)
}

func filtersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).Filters())
}

// updateFilters applies fn to the filter set and replies with the new set.
func updateFilters(w http.ResponseWriter, r *http.Request, fn func(filter.Set) filter.Set) {
	writeJSON(w, http.StatusOK, getDatasetService(r).UpdateFilters(fn))
}

func setTagFilterHandler(w http.ResponseWriter, r *http.Request) {
	var f filter.TagFilter
	if !decodeBody(w, r, &f) {
		return
	}
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.WithTagFilter(f) })
}

func addTagHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tag string `json:"tag"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Tag == "" {
		http.Error(w, "tag is required", http.StatusBadRequest)
		return
	}
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.AddTag(req.Tag) })
}

func setShapeFilterHandler(w http.ResponseWriter, r *http.Request) {
	var f filter.ShapeFilter
	if !decodeBody(w, r, &f) {
		return
	}
	if !f.Shape.Valid() {
		http.Error(w, "invalid shape: "+string(f.Shape), http.StatusBadRequest)
		return
	}
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.WithShapeFilter(f) })
}

func updatePropertyFilterHandler(w http.ResponseWriter, r *http.Request) {
	var f filter.PropertyFilter
	if !decodeBody(w, r, &f) {
		return
	}
	if f.PropertyID == "" {
		http.Error(w, "propertyId is required", http.StatusBadRequest)
		return
	}
	if f.ID == "" {
		f.ID = f.PropertyID
	}
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.UpdatePropertyFilter(f) })
}

func newROIFilterHandler(w http.ResponseWriter, r *http.Request) {
	updateFilters(w, r, filter.Set.NewROIFilter)
}

func cancelROIFilterHandler(w http.ResponseWriter, r *http.Request) {
	updateFilters(w, r, filter.Set.CancelROIFilter)
}

func commitROIFilterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ROI []geometry.Point `json:"roi"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.CommitROIFilter(req.ROI) })
}

func removeROIFilterHandler(w http.ResponseWriter, r *http.Request) {
	id := pathString(r, "id")
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.RemoveROIFilter(id) })
}

func toggleROIFilterHandler(w http.ResponseWriter, r *http.Request) {
	id := pathString(r, "id")
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.ToggleROIFilter(id) })
}

func selectionAsFilterHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).SelectionAsFilter())
}

func clearSelectionFilterHandler(w http.ResponseWriter, r *http.Request) {
	updateFilters(w, r, filter.Set.ClearSelection)
}

func addFilterIDHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.AddFilterID(req.ID) })
}

func removeFilterIDHandler(w http.ResponseWriter, r *http.Request) {
	id := pathString(r, "property")
	updateFilters(w, r, func(s filter.Set) filter.Set { return s.RemoveFilterID(id) })
}

func refreshHistogramsHandler(w http.ResponseWriter, r *http.Request) {
	hists, err := getDatasetService(r).RefreshHistograms(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hists)
}

func selectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": svc.Selected(),
		"active":   svc.ActiveIDs(),
		"inactive": svc.InactiveAnnotationIDs(),
		"hovered":  svc.Hovered(),
	})
}

func setSelectionHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var req idsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	svc.SetSelected(req.IDs)
	writeJSON(w, http.StatusOK, map[string]interface{}{"selected": svc.Selected()})
}

func setHoverHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	getDatasetService(r).SetHovered(req.ID)
	w.WriteHeader(http.StatusNoContent)
}

func toggleActiveHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var req idsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   svc.ToggleActive(req.IDs),
		"inactive": svc.InactiveAnnotationIDs(),
	})
}

type toolLocationRequest struct {
	Tool     service.Tool     `json:"tool"`
	Viewport service.Viewport `json:"viewport"`
}

func toolLocationHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	var req toolLocationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	loc, channel := svc.AnnotationLocationFromTool(req.Tool, req.Viewport)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location": loc,
		"channel":  channel,
	})
}

type jobSubmitRequest struct {
	Tool       string   `json:"tool"`
	Tags       []string `json:"tags"`
	Properties []string `json:"properties"`
}

func jobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		var req jobSubmitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Tool == "" {
			req.Tool = service.GeometryTool
		}
		if req.Tool != service.GeometryTool {
			http.Error(w, "unknown tool: "+req.Tool, http.StatusBadRequest)
			return
		}

		job, err := jm.Submit(jobstore.JobParams{
			DatasetID:  chi.URLParam(r, "dataset"),
			Tool:       req.Tool,
			Tags:       req.Tags,
			Properties: req.Properties,
		})
		if err != nil {
			http.Error(w, "failed to submit job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// jobListHandler lists the dataset's jobs; ?active=1 keeps queued and
// running ones only.
func jobListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		datasetID := chi.URLParam(r, "dataset")

		var (
			jobs []*jobstore.Job
			err  error
		)
		if active, _ := strconv.ParseBool(r.URL.Query().Get("active")); active {
			jobs, err = jm.ActiveJobs(datasetID)
		} else {
			jobs, err = jm.List(datasetID)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if jobs == nil {
			jobs = []*jobstore.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func datasetJob(jm *JobManager, w http.ResponseWriter, r *http.Request) *jobstore.Job {
	if jm == nil {
		http.Error(w, "job manager not configured", http.StatusNotImplemented)
		return nil
	}
	job := jm.Get(chi.URLParam(r, "job_id"))
	if job == nil || job.DatasetID != chi.URLParam(r, "dataset") {
		http.Error(w, "job not found", http.StatusNotFound)
		return nil
	}
	return job
}

func jobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := datasetJob(jm, w, r)
		if job == nil {
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// jobCancelHandler cancels a pending job, or deletes a finished one.
func jobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job := datasetJob(jm, w, r)
		if job == nil {
			return
		}
		if job.Status.Terminal() {
			if err := jm.Delete(job.ID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": job.ID, "deleted": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    job.ID,
			"cancelled": jm.Cancel(job.ID),
		})
	}
}
