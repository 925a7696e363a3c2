package metastore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MetaStoreMock keeps nodes in a map keyed by absolute path. The root always
// exists.
type MetaStoreMock struct {
	mu          sync.Mutex
	nodes       map[string][]byte
	unavailable bool
	batches     int
}

func NewMockMetaStore() *MetaStoreMock {
	return &MetaStoreMock{nodes: map[string][]byte{"/": nil}}
}

// SetUnavailable makes every following call fail as if the store is down.
func (m *MetaStoreMock) SetUnavailable(flag bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = flag
}

func (m *MetaStoreMock) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func childrenOf(nodes map[string][]byte, path string) []string {
	output := []string{}
	for p := range nodes {
		if p != "/" && parentOf(p) == path {
			output = append(output, p[strings.LastIndex(p, "/")+1:])
		}
	}
	sort.Strings(output)
	return output
}

func createIn(nodes map[string][]byte, path string, data []byte) bool {
	if _, ok := nodes[path]; ok {
		return true
	}
	if _, ok := nodes[parentOf(path)]; !ok {
		return false
	}
	nodes[path] = data
	return true
}

func deleteIn(nodes map[string][]byte, path string) bool {
	if _, ok := nodes[path]; !ok {
		return true
	}
	if path == "/" || len(childrenOf(nodes, path)) > 0 {
		return false
	}
	delete(nodes, path)
	return true
}

func setIn(nodes map[string][]byte, path string, data []byte) bool {
	if _, ok := nodes[path]; !ok {
		return false
	}
	nodes[path] = data
	return true
}

func (m *MetaStoreMock) Close() {}

func (m *MetaStoreMock) Get(ctx context.Context, path string) ([]byte, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, false, false
	}
	data, ok := m.nodes[JoinPath(path)]
	return data, ok, true
}

func (m *MetaStoreMock) Children(ctx context.Context, path string) ([]string, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, false, false
	}
	path = JoinPath(path)
	if _, ok := m.nodes[path]; !ok {
		return nil, false, true
	}
	return childrenOf(m.nodes, path), true, true
}

func (m *MetaStoreMock) Create(ctx context.Context, path string, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable && createIn(m.nodes, JoinPath(path), data)
}

func (m *MetaStoreMock) Set(ctx context.Context, path string, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable && setIn(m.nodes, JoinPath(path), data)
}

func (m *MetaStoreMock) Delete(ctx context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable && deleteIn(m.nodes, JoinPath(path))
}

func (m *MetaStoreMock) WriteBatch(ctx context.Context, ops ...WriteOp) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	if m.unavailable || len(ops) == 0 {
		return false
	}

	staged := make(map[string][]byte, len(m.nodes))
	for k, v := range m.nodes {
		staged[k] = v
	}
	for _, op := range ops {
		path := JoinPath(op.OpPath())
		ok := false
		switch op := op.(type) {
		case *CreateOp:
			_, exists := staged[path]
			ok = !exists && createIn(staged, path, op.Data)
		case *SetOp:
			ok = setIn(staged, path, op.Data)
		case *DeleteOp:
			ok = deleteIn(staged, path)
		}
		if !ok {
			return false
		}
	}
	m.nodes = staged
	return true
}

func (m *MetaStoreMock) RecursiveCreate(ctx context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return false
	}
	prefix := ""
	for _, token := range splitPath(path) {
		prefix = prefix + "/" + token
		createIn(m.nodes, prefix, []byte{})
	}
	return true
}

func (m *MetaStoreMock) RecursiveDelete(ctx context.Context, path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return false
	}
	path = JoinPath(path)
	for p := range m.nodes {
		if p == path || strings.HasPrefix(p, path+"/") {
			delete(m.nodes, p)
		}
	}
	m.nodes["/"] = nil
	return true
}
