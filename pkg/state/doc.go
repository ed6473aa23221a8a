// Package state persists execution outcomes for units of work and phases.
// It offers two interchangeable backends behind the Store interface: an
// append-only text log and a SQLite database.
package state
