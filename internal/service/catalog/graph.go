package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/pipeline-orchestrator/internal/domain"
)

type Direction string

const (
	DirectionUpstream   Direction = "upstream"
	DirectionDownstream Direction = "downstream"
	DirectionBoth       Direction = "both"
)

const (
	DefaultGraphDepth    = 3
	MaxGraphDepth        = 5
	DefaultGraphMaxEdges = 2000
	MaxGraphEdges        = 5000
)

func ParseDirection(value string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(value))); d {
	case "":
		return DirectionBoth, nil
	case DirectionUpstream, DirectionDownstream, DirectionBoth:
		return d, nil
	default:
		return "", fmt.Errorf("unknown direction %q", value)
	}
}

type GraphQuery struct {
	Table       string
	Environment domain.Environment
	Direction   Direction
	Depth       int
	MaxEdges    int
}

type Node struct {
	Table string `json:"table"`
	Depth int    `json:"depth"`
}

// Edge points from a parent table to the table derived from it.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Graph struct {
	Root        string             `json:"root"`
	Environment domain.Environment `json:"environment"`
	Nodes       []Node             `json:"nodes"`
	Edges       []Edge             `json:"edges"`
	Truncated   bool               `json:"truncated"`
}

// Graph walks parent_tables breadth-first from q.Table. Depth and MaxEdges
// are clamped to [1,5] and [1,5000].
func (w *Writer) Graph(ctx context.Context, q GraphQuery) (Graph, error) {
	if w == nil || w.repo == nil {
		return Graph{}, errors.New("catalog writer not initialized")
	}
	root := strings.TrimSpace(q.Table)
	if root == "" {
		return Graph{}, errors.New("table is required")
	}
	env := q.Environment
	if env == "" {
		env = domain.EnvironmentProd
	}
	dir := q.Direction
	if dir == "" {
		dir = DirectionBoth
	}
	depth := clampInt(q.Depth, DefaultGraphDepth, MaxGraphDepth)
	maxEdges := clampInt(q.MaxEdges, DefaultGraphMaxEdges, MaxGraphEdges)

	type queueItem struct {
		Table string
		Depth int
	}
	nodes := map[string]int{root: 0}
	edgeSet := make(map[Edge]struct{})
	edges := make([]Edge, 0, 16)
	truncated := false

	addEdge := func(e Edge) bool {
		if _, ok := edgeSet[e]; ok {
			return true
		}
		if len(edges) >= maxEdges {
			truncated = true
			return false
		}
		edgeSet[e] = struct{}{}
		edges = append(edges, e)
		return true
	}

	queue := []queueItem{{Table: root}}
	for len(queue) > 0 && !truncated {
		item := queue[0]
		queue = queue[1:]
		if item.Depth >= depth {
			continue
		}

		var next []string
		if dir == DirectionUpstream || dir == DirectionBoth {
			parents, err := w.Upstream(ctx, item.Table, env)
			if err != nil {
				return Graph{}, err
			}
			for _, p := range parents {
				if !addEdge(Edge{From: p, To: item.Table}) {
					break
				}
				next = append(next, p)
			}
		}
		if (dir == DirectionDownstream || dir == DirectionBoth) && !truncated {
			children, err := w.Downstream(ctx, item.Table, env)
			if err != nil {
				return Graph{}, err
			}
			for _, c := range children {
				if !addEdge(Edge{From: item.Table, To: c.TableName}) {
					break
				}
				next = append(next, c.TableName)
			}
		}

		for _, t := range next {
			if _, ok := nodes[t]; ok {
				continue
			}
			nodes[t] = item.Depth + 1
			queue = append(queue, queueItem{Table: t, Depth: item.Depth + 1})
		}
	}

	nodeList := make([]Node, 0, len(nodes))
	for t, d := range nodes {
		nodeList = append(nodeList, Node{Table: t, Depth: d})
	}
	sort.Slice(nodeList, func(i, j int) bool {
		if nodeList[i].Depth == nodeList[j].Depth {
			return nodeList[i].Table < nodeList[j].Table
		}
		return nodeList[i].Depth < nodeList[j].Depth
	})
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From == edges[j].From {
			return edges[i].To < edges[j].To
		}
		return edges[i].From < edges[j].From
	})
	return Graph{
		Root:        root,
		Environment: env,
		Nodes:       nodeList,
		Edges:       edges,
		Truncated:   truncated,
	}, nil
}

func clampInt(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
