// Package core defines the shared domain types of mentorsync: change
// records read from the record store, projected sink payloads, per-source
// checkpoints, and sync run history.
package core
