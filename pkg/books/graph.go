package books

// GraphData is the similarity graph of a book as returned by the graph endpoint.
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type GraphEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// Network is the node/link form consumed by force-layout renderers.
type Network struct {
	Nodes []NetworkNode `json:"nodes"`
	Links []NetworkLink `json:"links"`
}

type NetworkNode struct {
	ID    string  `json:"id"`
	Group string  `json:"group"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

type NetworkLink struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// Network converts g. Node labels become groups; positions start at the origin.
func (g GraphData) Network() Network {
	n := Network{
		Nodes: make([]NetworkNode, 0, len(g.Nodes)),
		Links: make([]NetworkLink, 0, len(g.Edges)),
	}
	for _, node := range g.Nodes {
		n.Nodes = append(n.Nodes, NetworkNode{ID: node.ID, Group: node.Label})
	}
	for _, e := range g.Edges {
		n.Links = append(n.Links, NetworkLink{Source: e.From, Target: e.To, Value: e.Weight})
	}
	return n
}
