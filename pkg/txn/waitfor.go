package txn

import "sync"

// WaitForGraph tracks lock-wait edges ("tx A waits on tx B for key K")
// so a coordinator can periodically probe for cycles and abort one
// participant per cycle found (§4.H deadlock detection).
type WaitForGraph struct {
	mu    sync.Mutex
	edges map[string]map[string]string // waiter -> holder -> key
}

// NewWaitForGraph creates an empty graph.
func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{edges: make(map[string]map[string]string)}
}

// AddEdge records that waiter is blocked on holder for key.
func (g *WaitForGraph) AddEdge(waiter, holder, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if waiter == holder {
		return
	}
	if g.edges[waiter] == nil {
		g.edges[waiter] = make(map[string]string)
	}
	g.edges[waiter][holder] = key
}

// RemoveWaiter drops every outgoing edge for waiter, e.g. once its lock
// wait resolves (granted, timed out, or aborted).
func (g *WaitForGraph) RemoveWaiter(waiter string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, waiter)
}

// DetectCycle searches for a cycle reachable from start and returns the
// ordered list of xids in it, or nil if start is not part of one.
func (g *WaitForGraph) DetectCycle(start string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	visited := map[string]bool{}
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		if idx := indexOf(path, node); idx >= 0 {
			cycle := append([]string{}, path[idx:]...)
			return append(cycle, node)
		}
		if visited[node] {
			return nil
		}
		visited[node] = true
		path = append(path, node)
		for holder := range g.edges[node] {
			if cyc := visit(holder); cyc != nil {
				return cyc
			}
		}
		path = path[:len(path)-1]
		return nil
	}
	return visit(start)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
