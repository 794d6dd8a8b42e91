// Package checkpoint defines the persistence collaborator used between
// conversation turns, plus a volatile in-memory implementation.
//
// Durable backends (SQL, object storage) implement Store in their own
// packages; only the wiring layer decides which one to use.
package checkpoint
