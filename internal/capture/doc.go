// Package capture defines the core types and interfaces shared across the
// crawl-and-capture engine: targets, fetch results, validated images,
// records, fingerprints, and the contracts its components implement.
package capture
