package websocket

import (
	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/infrastructure/monitoring"
)

// Ensure SocketObserver implements CellObserver.
var _ monitoring.CellObserver = (*SocketObserver)(nil)

// SocketObserver forwards cell events from the orchestrator to the hub.
type SocketObserver struct {
	hub *Hub
}

// NewSocketObserver creates an observer bound to a hub.
func NewSocketObserver(hub *Hub) *SocketObserver {
	return &SocketObserver{hub: hub}
}

// OnCellChunk broadcasts a token-level event.
func (o *SocketObserver) OnCellChunk(tableID string, chunk *domain.CellCompletionChunk) {
	o.hub.Broadcast(Event{
		Type:    EventCellChunk,
		TableID: tableID,
		RowID:   chunk.RowID,
		Column:  chunk.OutputColumnName,
		Payload: chunk,
	})
}

// OnCellReferences broadcasts a retrieval event.
func (o *SocketObserver) OnCellReferences(tableID string, refs *domain.CellReferences) {
	o.hub.Broadcast(Event{
		Type:    EventCellReferences,
		TableID: tableID,
		RowID:   refs.RowID,
		Column:  refs.OutputColumnName,
		Payload: refs,
	})
}

// OnRowCompleted broadcasts a row-final event.
func (o *SocketObserver) OnRowCompleted(tableID, rowID string) {
	o.hub.Broadcast(Event{
		Type:    EventRowCompleted,
		TableID: tableID,
		RowID:   rowID,
	})
}
