// Package util provides logging, stats and small helpers shared by every
// other package.
package util

import (
	"hash/fnv"
)

// Fingerprint returns a short hash of a session description, used to tell
// descriptions apart in debug logs without dumping the whole SDP.
func Fingerprint(sdp string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(sdp))
	return h.Sum32()
}
