package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lead-board/config"
	"lead-board/domain"
	"lead-board/storage"
)

var seedPath string

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create tables and default columns, optionally seeding items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return initStorage(cmd.Context(), cfg, seedPath)
	},
}

func init() {
	initStorageCmd.Flags().StringVar(&seedPath, "seed", "", "JSON file with an array of items to upsert")
}

func initStorage(ctx context.Context, c *config.Config, seed string) error {
	if c.Backend == config.BackendAzure {
		if err := storage.Provision(ctx, tablesConfig(c), c.Columns); err != nil {
			return fmt.Errorf("provision: %w", err)
		}
	}
	b, closeBackend, err := openBackend(c)
	if err != nil {
		return err
	}
	defer func() { _ = closeBackend() }()

	cols, err := b.EnsureColumns(ctx, c.Columns)
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	log.WithField("columns", len(cols)).Info("columns ready")
	if seed == "" {
		return nil
	}
	items, err := readSeed(seed)
	if err != nil {
		return err
	}
	byName := make(map[string]string, len(cols))
	for _, col := range cols {
		byName[col.Name] = col.ID
	}
	for _, item := range items {
		// Seed files may name columns instead of using generated ids.
		if item.ColumnID != nil {
			if id, ok := byName[*item.ColumnID]; ok {
				item.ColumnID = domain.StringPtr(id)
			}
		}
		if err := b.UpsertItem(ctx, item); err != nil {
			return fmt.Errorf("seed item %d: %w", item.ID, err)
		}
	}
	log.WithField("items", len(items)).Info("items seeded")
	return nil
}

func readSeed(path string) ([]domain.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []domain.WorkItem
	if err := sonic.ConfigStd.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return items, nil
}
