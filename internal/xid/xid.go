// Package xid generates prefixed, roughly time-sortable record ids like
// pur-1m5kq3v8-9f2c01ab. The prefix tells a human (and a log grep) what kind
// of record an id names.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

func New(prefix string) string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// timestamp alone is unique enough for a single-process fallback
		return fmt.Sprintf("%s-%s", prefix, ts)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, ts, hex.EncodeToString(buf))
}
