// Package engine drives scheduled job execution.
//
// A single periodic ticker scans for due jobs and spawns them under a
// concurrency cap; job work itself happens out of process via the injected
// Executor. Engine state (the running set) is only touched from the tick
// handler and from run-completion callbacks, both funneled through one mutex,
// so scans and completions never race.
//
// Stopping the engine stops scheduling; it never cancels jobs that are
// already running. The only early-termination path is the per-executor
// timeout.
package engine
