/*
Package cache provides the storage tiers behind the orchestrator.

Each tier implements types.TierBackend and knows nothing about the others:

	┌──────────────┬───────────────┬──────────────────────────────┐
	│ Tier         │ Backend       │ Characteristics              │
	├──────────────┼───────────────┼──────────────────────────────┤
	│ fast         │ MemoryTier    │ in-process LRU, no I/O       │
	│ edge         │ DiskTier      │ local files, gzip, checksums │
	│ edge         │ RedisTier     │ shared across instances      │
	│ durable      │ SQLiteTier    │ single-file database         │
	│ durable      │ s3.Backend    │ object store (storage/s3)    │
	└──────────────┴───────────────┴──────────────────────────────┘

Every backend enforces its own expiry. A Put with ttl 0 uses the backend
default, and an expired entry is reported as absent, never returned.
Capacity policy (LRU by bytes and entries for memory, oldest-access for
disk) is local to each backend.
*/
package cache
