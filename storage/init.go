package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// Provision creates the tables and queue named in cfg, tolerating ones that
// already exist, then seeds columns when the column table is empty.
func Provision(ctx context.Context, cfg TablesConfig, columns []string) error {
	if err := CreateTables(ctx, cfg.ConnectionString, []string{cfg.ItemsTable, cfg.ColumnsTable}); err != nil {
		return err
	}
	if err := CreateQueues(ctx, cfg.ConnectionString, []string{cfg.EventsQueue}); err != nil {
		return err
	}
	t, err := NewTables(cfg)
	if err != nil {
		return err
	}
	cols, err := t.EnsureColumns(ctx, columns)
	if err != nil {
		return err
	}
	log.WithField("columns", len(cols)).Info("storage provisioned")
	return nil
}

// CreateTables creates each non-empty table name.
func CreateTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

// CreateQueues creates each non-empty queue name.
func CreateQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err = q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
		log.WithField("queue", name).Debug("queue ready")
	}
	return nil
}
