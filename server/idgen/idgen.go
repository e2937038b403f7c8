// Package idgen generates compact session identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"
)

var (
	sequence       uint32
	base32Encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

// New generates a session id from a truncated timestamp, an atomic sequence
// counter and random bytes: 10 bytes, base32-encoded, lowercase. Uniqueness
// only has to hold within one server process.
func New() string {
	id := make([]byte, 10)
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint16(id[4:6], uint16(atomic.AddUint32(&sequence, 1)))
	if _, err := rand.Read(id[6:10]); err != nil {
		binary.BigEndian.PutUint32(id[6:10], uint32(time.Now().UnixNano()))
	}
	return strings.ToLower(base32Encoding.EncodeToString(id))
}
