/*
Package store persists markov.Matrix models in a SQLite database.

Several named models share one database and one global vocabulary. A model is
saved as a snapshot of its exact transition frequencies and loaded back into a
fresh Matrix. Models can also be exported to and imported from JSON; importing
into an existing model adds the imported frequencies to the stored ones.

The package only uses database/sql; callers register a driver, for example
modernc.org/sqlite or github.com/mattn/go-sqlite3.
*/
package store
