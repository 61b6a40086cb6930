// Package checkpoint persists workflow snapshots so a run can be resumed in
// a new process.
//
// Two backends implement Store: FileStore keeps a single JSON document on
// disk and BadgerStore keeps every run in an embedded Badger database. Both
// wrap the snapshot in an envelope carrying its SHA-256 checksum, and both
// refuse to return a snapshot whose checksum does not match.
package checkpoint
