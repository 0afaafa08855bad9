// Package management talks to the node's management interface: snapshot
// take/clear and ring token lookup.
package management

import "context"

// Service is the subset of the node's management operations used by backups.
type Service interface {
	// TakeSnapshot snapshots keyspaces (all when empty) under tag. A non-empty
	// table restricts it to that table of the single given keyspace.
	TakeSnapshot(ctx context.Context, keyspaces []string, tag, table string) error
	// ClearSnapshot removes the snapshot tag from every keyspace.
	ClearSnapshot(ctx context.Context, tag string) error
	// RingTokens returns the tokens owned by this node.
	RingTokens(ctx context.Context) ([]string, error)
}
