// Package canvas is the HTTP client for the Canvas REST and New Quizzes
// APIs, scoped to a single course target.
//
// Every operation takes a context and runs through one retry loop: transient
// failures (429, 5xx, request timeouts, network errors) back off
// exponentially with jitter and honor Retry-After, while 4xx responses fail
// fast with a permanent or not-found marker from the services taxonomy.
// Payload construction is separated from transport: BuildItemPayload renders
// a canonical item spec into the slug-specific envelope the items endpoint
// expects and validates it locally before any request is made, so a rejected
// shape never costs a round trip.
package canvas
