// Package decode defines the contract between the playback core and a video
// decode backend, the errors a backend reports, and a deterministic
// [Synthetic] backend that produces timestamped frames without touching the
// filesystem.
//
// A [Decoder] is owned by exactly one channel buffer and is only ever called
// from that buffer's prefetch goroutine, so implementations need not be safe
// for concurrent use.
package decode
