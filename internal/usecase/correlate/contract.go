package correlate

import "github.com/kailas-cloud/catalogsync/internal/domain"

// ChildBuffer holds inventory levels whose parent has not been seen yet.
type ChildBuffer interface {
	Append(parent string, lvl domain.InventoryLevel) error
	// Drain removes and returns the levels buffered under parent, in arrival order.
	Drain(parent string) ([]domain.InventoryLevel, error)
	// Remaining reports how many levels are still buffered per parent.
	Remaining() (map[string]int, error)
	// Close releases the buffer. It must be safe to call more than once.
	Close() error
}
