// Package storage persists retry chains.
//
// Every attempt of a chain is its own row. A row only ever moves from
// pending to done; a retry appends a successor row in the same transaction
// that finishes its predecessor. The same database also records which
// terminal notices were delivered so restarts don't double-notify.
package storage
