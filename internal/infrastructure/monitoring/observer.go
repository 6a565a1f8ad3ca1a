package monitoring

import (
	"sync"

	"github.com/gridify/gentable/internal/domain"
)

// CellObserver receives cell lifecycle events from the batch orchestrator.
// Implementations must not block; slow sinks should buffer or drop.
type CellObserver interface {
	// OnCellChunk is called for every streamed token-level event.
	OnCellChunk(tableID string, chunk *domain.CellCompletionChunk)
	// OnCellReferences is called when a RAG-enabled cell resolves retrieval.
	OnCellReferences(tableID string, refs *domain.CellReferences)
	// OnRowCompleted is called once the row-final record is produced.
	OnRowCompleted(tableID, rowID string)
}

// ObserverManager fans cell events out to registered observers.
type ObserverManager struct {
	mu        sync.RWMutex
	observers []CellObserver
}

// NewObserverManager creates an empty manager.
func NewObserverManager() *ObserverManager {
	return &ObserverManager{}
}

// AddObserver registers an observer.
func (m *ObserverManager) AddObserver(o CellObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// NotifyCellChunk fans a chunk event out to every observer.
func (m *ObserverManager) NotifyCellChunk(tableID string, chunk *domain.CellCompletionChunk) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.observers {
		o.OnCellChunk(tableID, chunk)
	}
}

// NotifyCellReferences fans a references event out to every observer.
func (m *ObserverManager) NotifyCellReferences(tableID string, refs *domain.CellReferences) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.observers {
		o.OnCellReferences(tableID, refs)
	}
}

// NotifyRowCompleted fans a row-final event out to every observer.
func (m *ObserverManager) NotifyRowCompleted(tableID, rowID string) {
	if m == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.observers {
		o.OnRowCompleted(tableID, rowID)
	}
}
