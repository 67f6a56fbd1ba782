package correlate

import "github.com/kailas-cloud/catalogsync/internal/domain"

// MemoryBuffer is the default ChildBuffer. It grows with the number of
// children whose parent has not arrived yet.
type MemoryBuffer struct {
	pending map[string][]domain.InventoryLevel
}

// NewMemoryBuffer creates an empty in-memory buffer.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{pending: make(map[string][]domain.InventoryLevel)}
}

func (m *MemoryBuffer) Append(parent string, lvl domain.InventoryLevel) error {
	m.pending[parent] = append(m.pending[parent], lvl)
	return nil
}

func (m *MemoryBuffer) Drain(parent string) ([]domain.InventoryLevel, error) {
	levels := m.pending[parent]
	delete(m.pending, parent)
	return levels, nil
}

func (m *MemoryBuffer) Remaining() (map[string]int, error) {
	out := make(map[string]int, len(m.pending))
	for parent, levels := range m.pending {
		out[parent] = len(levels)
	}
	return out, nil
}

// Close drops the buffered children. It is safe to call more than once.
func (m *MemoryBuffer) Close() error {
	clear(m.pending)
	return nil
}
