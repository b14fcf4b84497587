// Package domain holds the canonical typed shapes shared across the
// outreach engine: tenants, campaigns, leads, sequences, orchestration
// state, attribution events, and learning artifacts. Raw provider payloads
// stay opaque (json.RawMessage); everything the workflow logic touches is
// strongly typed here.
package domain
