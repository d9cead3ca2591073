package ws

import (
	"energyflow/internal/model"
)

// Bridge is an engine callback that pushes every published snapshot to the
// connected dashboards.
type Bridge struct {
	hub *Hub
}

func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

func (b *Bridge) OnSnapshot(s model.Snapshot) {
	if b.hub.ClientCount() == 0 {
		return
	}
	b.hub.BroadcastEnvelope(TypeSnapshotUpdate, SnapshotFromEngine(s))
}
