package annostore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/contrast-tiles/server/internal/annotation"
	"github.com/contrast-tiles/server/internal/geometry"
)

// NearestLabel is the label of connections made by ConnectToNearest.
const NearestLabel = "A Connection"

// CreateConnection validates and inserts c. Parent and child must exist.
func (s *Store) CreateConnection(c *annotation.Connection) error {
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if err := validate(s.schemas.connection, c); err != nil {
		return err
	}
	for _, id := range []string{c.ParentID, c.ChildID} {
		if _, err := s.GetAnnotation(id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: annotation %s does not exist", ErrInvalidDocument, id)
			}
			return err
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO connections (id, dataset_id, parent_id, child_id, label, tags_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.DatasetID, c.ParentID, c.ChildID, c.Label, string(tagsJSON), time.Now().Format(time.RFC3339))
	return err
}

// ListConnections returns the connections of a dataset in creation order.
func (s *Store) ListConnections(datasetID string) ([]annotation.Connection, error) {
	rows, err := s.db.Query(`
		SELECT id, dataset_id, parent_id, child_id, label, tags_json
		FROM connections WHERE dataset_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := []annotation.Connection{}
	for rows.Next() {
		var c annotation.Connection
		var tagsJSON string
		if err := rows.Scan(&c.ID, &c.DatasetID, &c.ParentID, &c.ChildID, &c.Label, &tagsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// DeleteConnections removes connections by id.
func (s *Store) DeleteConnections(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	in, args := inClause(ids)
	res, err := s.db.Exec(`DELETE FROM connections WHERE id IN `+in, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// NearestRequest asks for each annotation to be connected to its closest
// neighbour at the same location. ChannelID and Tags narrow the candidates.
type NearestRequest struct {
	AnnotationIDs []string `json:"annotationsIds"`
	ChannelID     *int     `json:"channelId,omitempty"`
	Tags          []string `json:"tags"`
}

// ConnectToNearest connects every requested annotation (as child) to the
// candidate with the closest centroid (as parent). Annotations without a
// candidate are skipped.
func (s *Store) ConnectToNearest(req NearestRequest) ([]annotation.Connection, error) {
	if len(req.AnnotationIDs) == 0 {
		return nil, fmt.Errorf("%w: missing annotation ids", ErrInvalidDocument)
	}

	type scopeKey struct {
		dataset string
		loc     annotation.Location
	}
	trees := make(map[scopeKey]*kdtree.Tree)

	conns := []annotation.Connection{}
	for _, id := range req.AnnotationIDs {
		a, err := s.GetAnnotation(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		key := scopeKey{dataset: a.DatasetID, loc: a.Location}
		tree, ok := trees[key]
		if !ok {
			candidates, err := s.annotationsAt(a.DatasetID, a.Location, req.ChannelID)
			if err != nil {
				return nil, fmt.Errorf("failed to load candidates: %w", err)
			}
			tree = newCentroidTree(withAnyTag(candidates, req.Tags))
			trees[key] = tree
		}

		parentID, ok := nearest(tree, a)
		if !ok {
			continue
		}
		c := annotation.Connection{
			ParentID:  parentID,
			ChildID:   a.ID,
			Label:     NearestLabel,
			Tags:      []string{},
			DatasetID: a.DatasetID,
		}
		if err := s.CreateConnection(&c); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, nil
}

func withAnyTag(anns []annotation.Annotation, tags []string) []annotation.Annotation {
	if len(tags) == 0 {
		return anns
	}
	out := anns[:0:0]
	for _, a := range anns {
		for _, tag := range tags {
			if a.HasTag(tag) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// centroid is a kd-tree point carrying the annotation it was computed from.
type centroid struct {
	geometry.Point
	id string
}

func (p centroid) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(centroid)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

func (p centroid) Dims() int { return 2 }

// Distance returns the squared euclidean distance.
func (p centroid) Distance(c kdtree.Comparable) float64 {
	q := c.(centroid)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

type centroids []centroid

func (p centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p centroids) Len() int                              { return len(p) }
func (p centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centroidPlane{centroids: p, Dim: d}, kdtree.MedianOfRandoms(centroidPlane{centroids: p, Dim: d}, 100))
}

// centroidPlane sorts centroids along one dimension.
type centroidPlane struct {
	centroids
	kdtree.Dim
}

func (p centroidPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.centroids[i].X < p.centroids[j].X
	case 1:
		return p.centroids[i].Y < p.centroids[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p centroidPlane) Slice(start, end int) kdtree.SortSlicer {
	return centroidPlane{centroids: p.centroids[start:end], Dim: p.Dim}
}

func (p centroidPlane) Swap(i, j int) {
	p.centroids[i], p.centroids[j] = p.centroids[j], p.centroids[i]
}

func newCentroidTree(anns []annotation.Annotation) *kdtree.Tree {
	points := make(centroids, 0, len(anns))
	for _, a := range anns {
		points = append(points, centroid{Point: geometry.Centroid(a.Coordinates), id: a.ID})
	}
	if len(points) == 0 {
		return nil
	}
	return kdtree.New(points, true)
}

// nearest returns the id of the closest annotation to a other than a itself.
func nearest(tree *kdtree.Tree, a *annotation.Annotation) (string, bool) {
	if tree == nil {
		return "", false
	}
	keeper := kdtree.NewNKeeper(2)
	tree.NearestSet(keeper, centroid{Point: geometry.Centroid(a.Coordinates), id: a.ID})

	best, bestDist := "", 0.0
	for _, item := range keeper.Heap {
		if item.Comparable == nil {
			continue
		}
		p := item.Comparable.(centroid)
		if p.id == a.ID {
			continue
		}
		if best == "" || item.Dist < bestDist {
			best, bestDist = p.id, item.Dist
		}
	}
	return best, best != ""
}
