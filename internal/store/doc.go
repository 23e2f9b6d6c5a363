// Package store is the sole owner of persisted scheduler state.
//
// It keeps the canonical SchedulerData document in memory and mirrors every
// mutation to a JSON file using atomic temp-and-rename writes, with
// timestamped backup rotation and load-time schema migration. Physical writes
// are funneled through a single worker so concurrent callers never interleave
// on the file.
package store
