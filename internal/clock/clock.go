// Package clock provides the millisecond timestamp type shared by the
// build log, the deps log and the scanner's mtime comparisons.
package clock

import "time"

// TimeStamp mirrors the disk interface contract: -1 means "not yet
// stat()ed", 0 means "missing", and any positive value is a real mtime
// expressed in the same units the disk interface returns.
type TimeStamp int64

// Unknown marks a node that has not been stat()ed yet.
const Unknown TimeStamp = -1

// Missing marks a node that was stat()ed and does not exist.
const Missing TimeStamp = 0

// NowMillis returns the wall-clock time in milliseconds since the Unix
// epoch, used for build-log start/end timestamps.
func NowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
