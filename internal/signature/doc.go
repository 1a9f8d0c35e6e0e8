// Package signature verifies HMAC-SHA256 webhook signatures from senders whose
// signing framing is not fully pinned down.
//
// Webflow signs the raw request body with a shared secret, but deliveries seen
// in the wild differ in how the timestamp is folded into the signed message and
// in how the secret is encoded. The Verifier therefore evaluates a small,
// fixed compatibility matrix instead of a single guess.
//
// # Verification Steps
//
//  1. Reject empty signature, secret or body
//  2. Extract the digest (last comma-separated segment, optional "sha256=" prefix)
//  3. If a timestamp is present, normalize it to seconds (values > 10^10 are
//     milliseconds) and reject when it is outside MaxSkew of now
//  4. Derive key candidates from the secret: raw, trimmed, trimmed without
//     line breaks, hex-decoded, base64-decoded (deduplicated)
//  5. For every key, compute each enabled Construction with the original and,
//     when different, the normalized timestamp text
//  6. Compare each hex digest against the received digest with
//     crypto/subtle; the first match wins
//
// # Narrowing the Matrix
//
// Every extra construction is one more digest an attacker-supplied value may
// be compared against. Operators who know which framing the sender uses should
// set Constructions to exactly that one (for example []Construction{DotSeparated}).
//
// # Security Model
//
//   - Digests are compared with crypto/subtle.ConstantTimeCompare
//   - Malformed input never panics; it only removes candidates
//   - Match reports labels only; key material never leaves the package
package signature
