// Package webhook implements the signed webhook intake for the wearables
// aggregator. Every delivery is authenticated with HMAC-SHA256 over the
// exact wire bytes, parsed into a routing envelope, attributed to a local
// user, and recorded at most once in the ingestion ledger.
//
// # Security Model
//
// - HMAC-SHA256 signatures verified using crypto/subtle (constant-time comparison)
// - Verification always runs against the raw received bytes, never a re-serialized form
// - Missing signature header or missing secret fails closed
// - Body size limits enforced to prevent memory exhaustion
// - No signature details leaked in error responses (always generic 401)
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured endpoint path
//  2. Body read as raw bytes with size cap (413 if too large)
//  3. Signature header extracted; HMAC-SHA256 compared constant-time (401 on mismatch)
//  4. Envelope parsed: user reference + event type required routing fields (400 if malformed)
//  5. User reference resolved to a local user (400 + REJECTED record if unmapped)
//  6. Delivery id claimed atomically in the ledger; replays short-circuit to
//     the recorded outcome with 200
//  7. Event applied and marked APPLIED; downstream failures mark FAILED and
//     return 500 so the sender redelivers
//
// Unknown event types are deliberately accepted and routed to a passthrough
// handler, so new aggregator event categories flow through without a deploy.
package webhook
