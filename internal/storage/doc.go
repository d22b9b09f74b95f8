// Package storage is the sqlite persistence layer: the seen-update set,
// subscriptions with their edit message refs, and the schema version row
// that gates first-run bootstrap.
package storage
