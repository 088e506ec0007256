package domain

import (
	"context"
	"fmt"
)

func LoadNodeStore(ctx context.Context, nodes *NodeStore, repo NodeRepository) error {
	items, err := repo.ListSortedByLastHeard(ctx)
	if err != nil {
		return fmt.Errorf("load nodes from db: %w", err)
	}
	nodes.Load(items)

	return nil
}
