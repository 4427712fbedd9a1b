/*
Package config loads and validates molcache configuration.

Sources are applied in order of increasing precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│            (MOLCACHE_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

Sizes are human strings ("512MB", "4GB") and durations use Go syntax
("30s", "5m"). Validate runs struct-tag rules and then the checks that
depend on several fields at once, such as a backend's required settings
or the ordering of the quality thresholds.

Example file:

	global:
	  log_level: info
	  log_format: json
	tiers:
	  fast:
	    enabled: true
	    max_size: 512MB
	  edge:
	    enabled: true
	    backend: redis
	    redis:
	      addr: cache.internal:6379
	  durable:
	    enabled: true
	    backend: sqlite
	    sqlite:
	      path: /var/lib/molcache/durable.db
	origin:
	  kind: http
	  url_template: https://files.rcsb.org/download/{key}.cif
	tunables:
	  quality:
	    downgrade_below: 30
	    upgrade_above: 55
*/
package config
