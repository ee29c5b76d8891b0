// Package store is the persistence gateway used by the coordinator and the
// progress monitor. It exposes get/put/delete/list of named JSON blobs
// behind the [Store] interface.
//
// Two backends are provided:
//
//   - [FileStore]: one file per key under a root directory. Writes go to a
//     temporary file that is renamed into place, and a flock(2) lock file
//     serializes writers from different processes.
//   - [SQLiteStore]: a single "blobs" table in a SQLite database, for
//     deployments that prefer one file over a directory tree.
//
// Keys are slash-separated relative paths such as "controller_state.json"
// or "work_orders/WO-001.json".
package store
