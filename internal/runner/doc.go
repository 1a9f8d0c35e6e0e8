// Package runner executes the external browser test suite for queued jobs.
//
// Each run spawns the configured command (split on whitespace, no shell) in
// the configured working directory with CI=true and
// PLAYWRIGHT_JSON_OUTPUT_NAME pointing at the structured results file.
//
// Key features:
//   - Fire-and-forget Start backed by a WaitGroup, synchronous Run for tests and the CLI
//   - stdout/stderr captured up to a byte cap and logged line by line
//   - Timeout enforcement with SIGTERM → 5s grace → SIGKILL on the process group
//   - Optional serialization of runs sharing a report directory, in-process
//     and across processes via a flock on the lock file
//   - Report directory collection after both success and failure
//
// Status flow:
//   - queued → running when the command is about to start
//   - running → completed on exit code zero, with the text report built
//   - running → failed on spawn error, non-zero exit, timeout or cancellation
//   - queued → failed when the report lock cannot be obtained
//
// Every transition is published as a lifecycle event.
package runner
