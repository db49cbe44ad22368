// Package clientid generates client-correlation identifiers for outbound
// publish/subscribe/unsubscribe frames.
package clientid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var base36Alphabet = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

// New returns a fresh clientMsgId: a cryptographic UUID, or a
// msg_{timestamp_ms}_{random_base36} fallback if UUID generation fails.
func New() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fallback(time.Now())
}

func fallback(now time.Time) string {
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), randomBase36(12))
}

func randomBase36(length int) string {
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base36Alphabet))))
		if err != nil {
			out[i] = base36Alphabet[0]
			continue
		}
		out[i] = base36Alphabet[n.Int64()]
	}
	return string(out)
}
