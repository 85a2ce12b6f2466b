package ledger

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// derivedIDPrefix marks delivery ids we computed ourselves, so operator
// tooling can tell them apart from sender-assigned ids.
const derivedIDPrefix = "drv_"

// DeriveDeliveryID computes a stable delivery id for senders that omit
// one, by hashing the routing fields and the exact payload bytes.
// Byte-identical redeliveries therefore still deduplicate. Fields are
// separated by NUL so ("ab","c") and ("a","bc") cannot collide.
func DeriveDeliveryID(userRef, eventType string, rawPayload []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(userRef))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(eventType))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(rawPayload)
	return derivedIDPrefix + hex.EncodeToString(h.Sum(nil))
}
