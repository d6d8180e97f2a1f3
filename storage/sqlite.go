package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"lead-board/domain"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLite is a single-file backend for local runs and tests.
type SQLite struct {
	db       *sql.DB
	pageSize int
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string, pageSize int) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: an in-memory database exists per connection, and
	// SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)
	if err := applySchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SQLite{db: db, pageSize: pageSize}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) LoadColumns(ctx context.Context) ([]domain.Column, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, nome, ordem FROM kanban_colunas ORDER BY ordem, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := []domain.Column{}
	for rows.Next() {
		var c domain.Column
		if err := rows.Scan(&c.ID, &c.Name, &c.Order); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// LoadItems reads placed, active items pageSize rows at a time.
func (s *SQLite) LoadItems(ctx context.Context) ([]domain.WorkItem, error) {
	items := []domain.WorkItem{}
	for offset := 0; ; offset += s.pageSize {
		page, err := s.loadPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
		if len(page) < s.pageSize {
			break
		}
	}
	sortByRank(items)
	return items, nil
}

func (s *SQLite) loadPage(ctx context.Context, offset int) ([]domain.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kanban_coluna_id, kanban_ordem, historico_kanban, dados
		FROM imoveis
		WHERE kanban_coluna_id IS NOT NULL AND ativo = 1
		ORDER BY kanban_ordem, id
		LIMIT ? OFFSET ?`, s.pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WorkItem
	for rows.Next() {
		var (
			id      int64
			column  sql.NullString
			order   int
			history string
			data    string
		)
		if err := rows.Scan(&id, &column, &order, &history, &data); err != nil {
			return nil, err
		}
		item, err := decodeItem(id, column.String, order, history, data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLite) WriteItem(ctx context.Context, itemID int64, w domain.ItemWrite) error {
	history, err := encodeHistory(w.History)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE imoveis
		SET kanban_coluna_id = ?, kanban_ordem = ?, historico_kanban = ?, atualizado_em = CURRENT_TIMESTAMP
		WHERE id = ?`, w.ColumnID, w.Order, history, itemID)
	if err != nil {
		return fmt.Errorf("write item %d: %w", itemID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) PatchItem(ctx context.Context, itemID int64, p domain.ItemPatch) (domain.WorkItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		column  sql.NullString
		order   int
		history string
		data    string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT kanban_coluna_id, kanban_ordem, historico_kanban, dados FROM imoveis WHERE id = ?`, itemID).
		Scan(&column, &order, &history, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkItem{}, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return domain.WorkItem{}, err
	}
	item, err := decodeItem(itemID, column.String, order, history, data)
	if err != nil {
		return domain.WorkItem{}, err
	}
	p.Apply(&item)
	if err := upsertItem(ctx, tx, item); err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return item, nil
}

// UpsertItem stores item as active.
func (s *SQLite) UpsertItem(ctx context.Context, item domain.WorkItem) error {
	return upsertItem(ctx, s.db, item)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertItem(ctx context.Context, db execer, item domain.WorkItem) error {
	data, err := encodeDescriptive(item)
	if err != nil {
		return err
	}
	history, err := encodeHistory(item.History)
	if err != nil {
		return err
	}
	var column any
	if item.OnBoard() {
		column = item.Column()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO imoveis (id, kanban_coluna_id, kanban_ordem, ativo, historico_kanban, dados)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kanban_coluna_id = excluded.kanban_coluna_id,
			kanban_ordem = excluded.kanban_ordem,
			historico_kanban = excluded.historico_kanban,
			dados = excluded.dados,
			atualizado_em = CURRENT_TIMESTAMP`,
		item.ID, column, item.Order, history, data)
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", item.ID, err)
	}
	return nil
}

// Deactivate hides an item from bulk loads without deleting it.
func (s *SQLite) Deactivate(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE imoveis SET ativo = 0 WHERE id = ?`, itemID)
	return err
}

// EnsureColumns adds the named columns when none exist and returns the
// columns present afterwards.
func (s *SQLite) EnsureColumns(ctx context.Context, names []string) ([]domain.Column, error) {
	existing, err := s.LoadColumns(ctx)
	if err != nil || len(existing) > 0 {
		return existing, err
	}
	for i, name := range names {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO kanban_colunas (id, nome, ordem) VALUES (?, ?, ?)`, columnID(name), name, i+1); err != nil {
			return nil, fmt.Errorf("insert column %q: %w", name, err)
		}
	}
	return s.LoadColumns(ctx)
}
