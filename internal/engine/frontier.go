package engine

// Frontier is the per-discussion work queue of reply nodes whose nested
// replies are known to be incomplete. Nodes leave in FIFO discovery order. A
// node is never queued twice and never re-queued once visited, which bounds
// the walk by the number of distinct node ids even when declared counts lie.
//
// A Frontier is owned by the goroutine resolving one discussion and is not
// safe for concurrent use.
type Frontier struct {
	queue   []frontierEntry
	queued  map[string]struct{}
	visited map[string]struct{}
}

type frontierEntry struct {
	id      string
	partial bool
}

// NewFrontier creates an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		queue:   make([]frontierEntry, 0, 16),
		queued:  make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
}

// Push enqueues a node id. It reports false when the id is empty, already
// queued, or already visited.
func (f *Frontier) Push(id string, partial bool) bool {
	if id == "" {
		return false
	}
	if _, ok := f.visited[id]; ok {
		return false
	}
	if _, ok := f.queued[id]; ok {
		return false
	}
	f.queued[id] = struct{}{}
	f.queue = append(f.queue, frontierEntry{id: id, partial: partial})
	return true
}

// Pop removes the oldest node and marks it visited.
func (f *Frontier) Pop() (id string, partial bool, ok bool) {
	if len(f.queue) == 0 {
		return "", false, false
	}
	e := f.queue[0]
	f.queue[0] = frontierEntry{}
	f.queue = f.queue[1:]
	delete(f.queued, e.id)
	f.visited[e.id] = struct{}{}
	return e.id, e.partial, true
}

// Len returns the number of queued nodes.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// IsEmpty reports whether no nodes are queued.
func (f *Frontier) IsEmpty() bool {
	return len(f.queue) == 0
}

// Visited reports whether a node has already been expanded.
func (f *Frontier) Visited(id string) bool {
	_, ok := f.visited[id]
	return ok
}

// VisitedCount returns the number of expanded nodes.
func (f *Frontier) VisitedCount() int {
	return len(f.visited)
}

// Snapshot returns the queued ids in order without removing them.
func (f *Frontier) Snapshot() []string {
	ids := make([]string, len(f.queue))
	for i, e := range f.queue {
		ids[i] = e.id
	}
	return ids
}
