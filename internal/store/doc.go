// Package store persists group settings, schedule entries, and ad entries.
//
// Drivers: "sqlite" (default), "file" (plain JSON files), "postgres".
// All drivers expose the same Store interface; settings writes go through an
// atomic read-modify-write so concurrent command handlers cannot lose updates.
package store
