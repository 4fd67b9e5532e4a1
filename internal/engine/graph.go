package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/accord-io/accord/internal/ir"
)

// CycleError reports a reference cycle in the resource graph. Addresses
// holds the offending chain in order, first address repeated at the end.
type CycleError struct {
	Addresses []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Addresses, " -> "))
}

// DAG represents a directed acyclic graph of resources for dependency ordering.
type DAG struct {
	nodes    map[string]*dagNode
	order    []string // topological order (creation order)
	revOrder []string // reverse topological order (destruction order)
}

type dagNode struct {
	addr     string
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildDAG constructs a dependency graph from declared resources. It
// resolves both explicit dependsOn entries and implicit ptr:// references
// into edges. A reference to an address not present in the configuration
// is a configuration error; a cycle is a CycleError.
func BuildDAG(resources []*ir.Resource) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for _, res := range resources {
		addr := res.Address()
		if _, exists := dag.nodes[addr]; exists {
			return nil, &ir.ConfigError{Address: addr, Detail: "duplicate resource address"}
		}
		dag.nodes[addr] = &dagNode{addr: addr}
	}

	for _, res := range resources {
		addr := res.Address()
		node := dag.nodes[addr]

		for _, dep := range res.DependsOn {
			if _, ok := dag.nodes[dep]; !ok {
				return nil, &ir.ConfigError{Address: addr, Detail: fmt.Sprintf("dependsOn target %q is not declared", dep)}
			}
			node.edges = append(node.edges, dep)
		}

		for _, ref := range ExtractRefs(res.Properties) {
			depAddr := RefToAddr(ref)
			if depAddr == "" {
				return nil, &ir.ConfigError{Address: addr, Detail: fmt.Sprintf("malformed reference %q", ref)}
			}
			if _, ok := dag.nodes[depAddr]; !ok {
				return nil, &ir.ConfigError{Address: addr, Detail: fmt.Sprintf("reference %q targets undeclared resource %s", ref, depAddr)}
			}
			if depAddr != addr {
				node.edges = append(node.edges, depAddr)
			} else {
				return nil, &CycleError{Addresses: []string{addr, addr}}
			}
		}
	}

	return dag.finish()
}

// BuildDAGFromState constructs a dependency graph from stored resources,
// using the dependencies recorded at apply time. Used for destroys.
func BuildDAGFromState(resources map[string]*ir.ResourceState) (*DAG, error) {
	dag := &DAG{
		nodes: make(map[string]*dagNode),
	}

	for addr, rs := range resources {
		node := &dagNode{addr: addr}
		node.edges = append(node.edges, rs.Dependencies...)
		dag.nodes[addr] = node
	}

	// Recorded dependencies may point at resources already removed from
	// state; keep the graph closed over them.
	for _, node := range dag.nodes {
		for _, dep := range node.edges {
			if _, ok := dag.nodes[dep]; !ok {
				dag.nodes[dep] = &dagNode{addr: dep}
			}
		}
	}

	return dag.finish()
}

func (d *DAG) finish() (*DAG, error) {
	for addr, node := range d.nodes {
		for _, dep := range node.edges {
			d.nodes[dep].revEdges = append(d.nodes[dep].revEdges, addr)
		}
	}

	order, err := d.topoSort()
	if err != nil {
		return nil, err
	}
	d.order = order

	d.revOrder = make([]string, len(order))
	for i, addr := range order {
		d.revOrder[len(order)-1-i] = addr
	}

	return d, nil
}

// CreationOrder returns resources in dependency-respecting creation order.
func (d *DAG) CreationOrder() []string {
	return d.order
}

// DestructionOrder returns resources in reverse dependency order (safe for deletion).
func (d *DAG) DestructionOrder() []string {
	return d.revOrder
}

// Dependencies returns the list of dependencies for a given address.
func (d *DAG) Dependencies(addr string) []string {
	if node, ok := d.nodes[addr]; ok {
		return node.edges
	}
	return nil
}

// topoSort performs Kahn's algorithm. Queue insertions are sorted so the
// resulting order is deterministic across runs.
func (d *DAG) topoSort() ([]string, error) {
	inDegree := make(map[string]int)
	for addr, node := range d.nodes {
		inDegree[addr] = len(node.edges)
	}

	var queue []string
	for addr, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, addr)
		}
	}
	sort.Strings(queue)

	var sorted []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		ready := make([]string, 0, len(d.nodes[node].revEdges))
		for _, dependent := range d.nodes[node].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(sorted) != len(d.nodes) {
		return nil, d.findCycle(inDegree)
	}

	return sorted, nil
}

// findCycle walks the unsorted remainder of the graph to report one
// offending cycle by address chain.
func (d *DAG) findCycle(inDegree map[string]int) *CycleError {
	remaining := make(map[string]bool)
	for addr, deg := range inDegree {
		if deg > 0 {
			remaining[addr] = true
		}
	}

	var start string
	for addr := range remaining {
		if start == "" || addr < start {
			start = addr
		}
	}

	// Follow dependency edges inside the remainder until an address
	// repeats; every node left over has at least one such edge.
	seen := make(map[string]int)
	var chain []string
	addr := start
	for {
		if at, ok := seen[addr]; ok {
			cycle := append([]string{}, chain[at:]...)
			cycle = append(cycle, addr)
			return &CycleError{Addresses: cycle}
		}
		seen[addr] = len(chain)
		chain = append(chain, addr)

		next := ""
		for _, dep := range d.nodes[addr].edges {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Should not happen; fall back to reporting the remainder.
			return &CycleError{Addresses: chain}
		}
		addr = next
	}
}

// ExtractRefs extracts all ptr:// references from a property value.
func ExtractRefs(v any) []string {
	var refs []string
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "ptr://") {
			refs = append(refs, val)
		}
	case map[string]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case map[any]any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	case []any:
		for _, v := range val {
			refs = append(refs, ExtractRefs(v)...)
		}
	}
	return refs
}

// RefToAddr converts a ptr:// reference to a resource address.
// ptr://aws:Vpc/my-vpc/id -> aws:Vpc.my-vpc
func RefToAddr(ref string) string {
	if !strings.HasPrefix(ref, "ptr://") {
		return ""
	}
	path := strings.TrimPrefix(ref, "ptr://")
	// Format: kind/name/attribute
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return fmt.Sprintf("%s.%s", parts[0], parts[1])
}
