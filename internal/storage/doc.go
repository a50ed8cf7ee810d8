// Package storage is the optional archive sink for postflow.
//
// The in-memory post table owned by the post scheduler stays the source of
// truth; the archive exists so dashboards can read run history, published
// post records and analytics snapshots after the fact. When no driver is
// configured Open returns (nil, nil) and callers skip archiving.
package storage
