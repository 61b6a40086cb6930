// Package inmemorytopology provides a thread-safe, in-memory implementation
// of the topologystore.Store interface. It keeps declaration order so the
// selector can break priority ties deterministically.
package inmemorytopology
