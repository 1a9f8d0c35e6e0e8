// Package webhook turns authenticated "site published" deliveries into queued
// test runs.
//
// The handler is transport-neutral: the HTTP layer reads the body once under
// a size limit and passes the exact bytes and headers to Handler.Handle,
// which returns the status code and JSON body to write.
//
// # Security Model
//
//   - Signatures are checked by internal/signature against the raw bytes
//   - The secret and the claimed signature are never logged; failures log
//     only lengths and header presence
//   - A missing secret is a server misconfiguration (500), not a client error
//
// # Request Flow
//
//  1. Secret configured? Otherwise 500
//  2. Signature and timestamp read from the configured headers
//  3. Signature verified, otherwise 401
//  4. Body parsed as a JSON object; anything else becomes {}
//  5. Event type resolved in priority order: triggerType, name, type, event,
//     then the same fields under payload
//  6. Normalized event compared with the target; mismatches get 200 "ignored"
//     because senders retry on non-2xx
//  7. Job created as queued, lifecycle event published, run launched
//     without waiting, 200 with polling links returned
//
// # Error Responses
//
//   - 401 Unauthorized: invalid or missing signature, stale timestamp
//   - 500 Internal Server Error: secret not configured, job creation failed,
//     or a recovered panic
package webhook
