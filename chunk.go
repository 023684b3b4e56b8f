package serialbridge

import (
	"encoding/hex"
	"time"
)

// Chunk is the payload of one receive notification. Data is owned by the
// chunk and is never reused by the receiver.
type Chunk struct {
	// Seq starts at 1 and increases by one per delivered chunk of a
	// subscription.
	Seq      uint64
	Received time.Time
	Data     []byte
}

func (c Chunk) Len() int {
	return len(c.Data)
}

// Hex renders the payload as lower-case hex, two digits per byte.
func (c Chunk) Hex() string {
	return hex.EncodeToString(c.Data)
}
