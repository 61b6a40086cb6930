// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the run and resume lifecycles, decoupled
// from any specific entrypoint like a CLI or server.
//
// An App loads a workflow file, turns its tasks into definitions executed
// by the runner registry, checkpoints the run after every task transition
// and, when a port is configured, serves a small HTTP control API for the
// duration of the run.
package app
