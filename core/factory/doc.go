// Package factory builds pluggable modules (stores, diff caches, metrics
// sinks, refiners) from their configuration block:
//
//	store:
//	  type: sqlite
//	  conf:
//	    path: /var/lib/roster/roster.db
//
// Each pluggable concern owns a Registry and registers its backends from an
// init function. Backends decode their conf map with Decode, which reads json
// tags, accepts strings for numbers and durations (as set through
// environment overrides) and rejects unknown keys.
package factory
