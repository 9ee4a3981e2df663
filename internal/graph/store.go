// Package graph maintains the entity relationship graph built up by
// consolidation. Nodes are unique by name, edges accumulate but replaying an
// event must not duplicate them. The whole graph is serialized to one JSON
// artifact on every mutation; a single-writer mutex keeps interleaved full
// rewrites from losing updates.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/marketmind/memoryd/internal/model"
)

// edgeKey identifies an edge for dedup. Two edges with the same triple and
// event are the same write replayed.
type edgeKey struct {
	Subject   string
	Predicate string
	Object    string
	EventID   string
}

// Store is the in-memory graph plus its durable JSON artifact.
type Store struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger

	nodes map[string]*model.GraphNode
	edges map[edgeKey]model.GraphEdge
	// adjacency is rebuilt on every mutation; it only holds neighbor names.
	adjacency map[string]map[string]struct{}
}

// snapshot is the on-disk shape of the graph.
type snapshot struct {
	Nodes []model.GraphNode `json:"nodes"`
	Edges []model.GraphEdge `json:"edges"`
}

// NewStore opens the graph at path, loading the existing artifact when
// present.
func NewStore(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		log:       log,
		nodes:     make(map[string]*model.GraphNode),
		edges:     make(map[edgeKey]model.GraphEdge),
		adjacency: make(map[string]map[string]struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read graph artifact: %v", model.ErrStorage, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("%w: decode graph artifact %s: %v", model.ErrData, s.path, err)
	}
	for i := range snap.Nodes {
		n := snap.Nodes[i]
		s.nodes[n.Name] = &n
	}
	for _, e := range snap.Edges {
		s.edges[edgeKey{e.Subject, e.Predicate, e.Object, e.EventID}] = e
		s.link(e.Subject, e.Object)
	}
	s.log.Info().Int("nodes", len(s.nodes)).Int("edges", len(s.edges)).Str("path", s.path).Msg("graph loaded")
	return nil
}

func (s *Store) link(a, b string) {
	if s.adjacency[a] == nil {
		s.adjacency[a] = make(map[string]struct{})
	}
	if s.adjacency[b] == nil {
		s.adjacency[b] = make(map[string]struct{})
	}
	s.adjacency[a][b] = struct{}{}
	s.adjacency[b][a] = struct{}{}
}

func (s *Store) rebuildAdjacency() {
	s.adjacency = make(map[string]map[string]struct{})
	for k := range s.edges {
		s.link(k.Subject, k.Object)
	}
}

// persist writes the whole graph to a temp file and renames it over the
// artifact. Callers hold s.mu.
func (s *Store) persist() error {
	snap := snapshot{
		Nodes: make([]model.GraphNode, 0, len(s.nodes)),
		Edges: make([]model.GraphEdge, 0, len(s.edges)),
	}
	for _, n := range s.nodes {
		snap.Nodes = append(snap.Nodes, *n)
	}
	for _, e := range s.edges {
		snap.Edges = append(snap.Edges, e)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].Name < snap.Nodes[j].Name })
	sort.Slice(snap.Edges, func(i, j int) bool {
		a, b := snap.Edges[i], snap.Edges[j]
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		if a.Predicate != b.Predicate {
			return a.Predicate < b.Predicate
		}
		if a.Object != b.Object {
			return a.Object < b.Object
		}
		return a.EventID < b.EventID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode graph: %v", model.ErrStorage, err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create graph dir: %v", model.ErrStorage, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write graph artifact: %v", model.ErrStorage, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: replace graph artifact: %v", model.ErrStorage, err)
	}
	return nil
}

// AddEvent merges the event's entities and relations into the graph and
// persists it. Replaying the same eventID is a no-op for edges it already
// produced, so consolidation retries are safe.
func (s *Store) AddEvent(_ context.Context, nodes []model.GraphNode, edges []model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		if n.Name == "" {
			continue
		}
		existing, ok := s.nodes[n.Name]
		if !ok {
			cp := n
			if cp.Attrs == nil {
				cp.Attrs = map[string]string{}
			}
			s.nodes[n.Name] = &cp
			continue
		}
		if n.Type != "" {
			existing.Type = n.Type
		}
		for k, v := range n.Attrs {
			if existing.Attrs == nil {
				existing.Attrs = map[string]string{}
			}
			existing.Attrs[k] = v
		}
	}

	for _, e := range edges {
		if e.Subject == "" || e.Object == "" {
			continue
		}
		// Endpoints mentioned only in relations still become nodes.
		for _, name := range []string{e.Subject, e.Object} {
			if _, ok := s.nodes[name]; !ok {
				s.nodes[name] = &model.GraphNode{Name: name, Attrs: map[string]string{}}
			}
		}
		k := edgeKey{e.Subject, e.Predicate, e.Object, e.EventID}
		if _, ok := s.edges[k]; ok {
			continue
		}
		s.edges[k] = e
		s.link(e.Subject, e.Object)
	}

	return s.persist()
}

// RelatedEntities expands from the seed entities up to maxDepth hops and
// returns every entity reached, seeds excluded. Unknown seeds contribute
// nothing.
func (s *Store) RelatedEntities(_ context.Context, entities []string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seeds := make(map[string]struct{}, len(entities))
	visited := make(map[string]struct{})
	frontier := make([]string, 0, len(entities))
	for _, e := range entities {
		if _, ok := s.nodes[e]; !ok {
			continue
		}
		seeds[e] = struct{}{}
		visited[e] = struct{}{}
		frontier = append(frontier, e)
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := frontier[:0:0]
		for _, name := range frontier {
			for nb := range s.adjacency[name] {
				if _, seen := visited[nb]; seen {
					continue
				}
				visited[nb] = struct{}{}
				next = append(next, nb)
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(visited))
	for name := range visited {
		if _, isSeed := seeds[name]; isSeed {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// FindPaths enumerates simple paths from start to end with at most maxDepth
// edges. Returns an empty slice when either endpoint is absent.
func (s *Store) FindPaths(_ context.Context, start, end string, maxDepth int) ([][]string, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[start]; !ok {
		return [][]string{}, nil
	}
	if _, ok := s.nodes[end]; !ok {
		return [][]string{}, nil
	}

	var paths [][]string
	onPath := map[string]struct{}{start: {}}
	var walk func(current string, path []string)
	walk = func(current string, path []string) {
		if current == end {
			cp := make([]string, len(path))
			copy(cp, path)
			paths = append(paths, cp)
			return
		}
		if len(path)-1 >= maxDepth {
			return
		}
		neighbors := make([]string, 0, len(s.adjacency[current]))
		for nb := range s.adjacency[current] {
			neighbors = append(neighbors, nb)
		}
		sort.Strings(neighbors)
		for _, nb := range neighbors {
			if _, seen := onPath[nb]; seen {
				continue
			}
			onPath[nb] = struct{}{}
			walk(nb, append(path, nb))
			delete(onPath, nb)
		}
	}
	walk(start, []string{start})
	if paths == nil {
		paths = [][]string{}
	}
	return paths, nil
}

// Stats reports current graph size.
func (s *Store) Stats(_ context.Context) (model.GraphStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.GraphStats{Nodes: len(s.nodes), Edges: len(s.edges)}, nil
}

// DeleteEvent removes every edge an event produced and persists the result.
// Nodes stay; they may be shared with other events. Used by the admin
// surface to retract a bad consolidation.
func (s *Store) DeleteEvent(_ context.Context, eventID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.edges {
		if k.EventID == eventID {
			delete(s.edges, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	s.rebuildAdjacency()
	if err := s.persist(); err != nil {
		return 0, err
	}
	return removed, nil
}
