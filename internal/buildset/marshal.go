package buildset

import (
	"encoding/json"

	"github.com/buildbtw/buildbtw"
)

// graphJSON is the on-disk/wire representation of a Graph: just the nodes
// in discovery order plus each node's direct dependents, from which the
// reverse (dependencies) index is rebuilt on load.
type graphJSON struct {
	Order      []buildbtw.Pkgbase                      `json:"order"`
	Nodes      map[buildbtw.Pkgbase]*Node               `json:"nodes"`
	Dependents map[buildbtw.Pkgbase][]buildbtw.Pkgbase `json:"dependents"`
}

func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{
		Order:      g.order,
		Nodes:      g.nodes,
		Dependents: g.dependents,
	})
}

func (g *Graph) UnmarshalJSON(data []byte) error {
	var raw graphJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = *newGraph()
	g.order = raw.Order
	g.nodes = raw.Nodes
	if g.nodes == nil {
		g.nodes = map[buildbtw.Pkgbase]*Node{}
	}
	for from, tos := range raw.Dependents {
		for _, to := range tos {
			g.addEdge(from, to)
		}
	}
	return nil
}
