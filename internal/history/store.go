// Package history persists finished packet snapshots. The pipeline depends
// only on the Store interface; the SQLite implementation lives beside it so
// callers that want no persistence can pass nil.
package history

import (
	"context"

	"github.com/dleary/packetflow/internal/packet"
)

type Store interface {
	Save(ctx context.Context, snap packet.PacketSnapshot) error
	List(ctx context.Context) ([]packet.PacketSnapshot, error)
	Delete(ctx context.Context, packetID string) error
}
