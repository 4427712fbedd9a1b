/*
Package types defines the contracts shared between molcache components.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        HTTP API / CLI (internal/api)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Orchestrator (internal/orchestrator)      │
	│   fast → edge → durable → origin            │
	└─────────────────────────────────────────────┘
	      │            │             │        │
	┌─────┴────┐ ┌─────┴─────┐ ┌─────┴────┐ ┌─┴──────┐
	│  Memory  │ │Disk/Redis │ │SQLite/S3 │ │ Origin │
	└──────────┘ └───────────┘ └──────────┘ └────────┘

# Tier Contract

Every storage layer implements TierBackend. The orchestrator is written
against that contract only and never inspects the concrete backend, so a
tier can be in-memory, on local disk, or remote.

Get reports absence with ok=false and a nil error. A non-nil error means
the tier could not answer; callers treat it as a miss for that tier and
fall through to the next one.

Put with a zero ttl uses the backend's default expiry. Delete of an absent
key is not an error.

# Thread Safety

All implementations must be safe for concurrent use.
*/
package types
