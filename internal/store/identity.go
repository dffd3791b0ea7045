package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertIdentity adds a named identity, returning its id. Inserting an existing name
// returns the existing id.
type InsertIdentity struct {
	pending[int64]
	Name string
}

// NewInsertIdentity creates an InsertIdentity command.
func NewInsertIdentity(name string, p Priority) *InsertIdentity {
	return &InsertIdentity{pending: newPending[int64](p), Name: name}
}

func (c *InsertIdentity) Kind() string { return "insert_identity" }

func (c *InsertIdentity) statement() string {
	return `INSERT INTO identities (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id`
}

func (c *InsertIdentity) run(ctx context.Context, stmt *sql.Stmt) error {
	var id int64
	err := stmt.QueryRowContext(ctx, c.Name).Scan(&id)
	c.complete(id, err)
	return err
}

// InsertEmbedding appends a vector to the identity with the given name.
// It fails with ErrNotFound when the identity does not exist.
type InsertEmbedding struct {
	pending[int64]
	Name   string
	Vector []float32
	Source string
}

// NewInsertEmbedding creates an InsertEmbedding command. The vector is copied.
func NewInsertEmbedding(name string, vec []float32, source string, p Priority) *InsertEmbedding {
	return &InsertEmbedding{
		pending: newPending[int64](p),
		Name:    name,
		Vector:  append([]float32(nil), vec...),
		Source:  source,
	}
}

func (c *InsertEmbedding) Kind() string { return "insert_embedding" }

func (c *InsertEmbedding) statement() string {
	return `INSERT INTO embeddings (identity_id, vector, source)
		SELECT id, ?, ? FROM identities WHERE name = ?`
}

func (c *InsertEmbedding) run(ctx context.Context, stmt *sql.Stmt) error {
	id, err := c.insert(ctx, stmt)
	c.complete(id, err)
	return err
}

func (c *InsertEmbedding) insert(ctx context.Context, stmt *sql.Stmt) (int64, error) {
	if len(c.Vector) == 0 {
		return 0, fmt.Errorf("empty vector for %q", c.Name)
	}
	res, err := stmt.ExecContext(ctx, EncodeVector(c.Vector), c.Source, c.Name)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("identity %q: %w", c.Name, ErrNotFound)
	}
	return res.LastInsertId()
}

// QueryNames lists all identity names in alphabetical order.
type QueryNames struct {
	pending[[]string]
}

// NewQueryNames creates a QueryNames command.
func NewQueryNames(p Priority) *QueryNames {
	return &QueryNames{pending: newPending[[]string](p)}
}

func (c *QueryNames) Kind() string { return "query_names" }

func (c *QueryNames) statement() string {
	return `SELECT name FROM identities ORDER BY name`
}

func (c *QueryNames) run(ctx context.Context, stmt *sql.Stmt) error {
	names, err := c.query(ctx, stmt)
	c.complete(names, err)
	return err
}

func (c *QueryNames) query(ctx context.Context, stmt *sql.Stmt) ([]string, error) {
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// EmbeddingRecord is one stored vector with the name it belongs to.
type EmbeddingRecord struct {
	Name   string
	Vector []float32
}

// QueryEmbeddings loads every stored embedding ordered by name.
// Rows whose blob is not a whole number of float32 values are skipped.
type QueryEmbeddings struct {
	pending[[]EmbeddingRecord]
}

// NewQueryEmbeddings creates a QueryEmbeddings command.
func NewQueryEmbeddings(p Priority) *QueryEmbeddings {
	return &QueryEmbeddings{pending: newPending[[]EmbeddingRecord](p)}
}

func (c *QueryEmbeddings) Kind() string { return "query_embeddings" }

func (c *QueryEmbeddings) statement() string {
	return `SELECT i.name, e.vector
		FROM embeddings e
		JOIN identities i ON i.id = e.identity_id
		ORDER BY i.name, e.id`
}

func (c *QueryEmbeddings) run(ctx context.Context, stmt *sql.Stmt) error {
	records, err := c.query(ctx, stmt)
	c.complete(records, err)
	return err
}

func (c *QueryEmbeddings) query(ctx context.Context, stmt *sql.Stmt) ([]EmbeddingRecord, error) {
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []EmbeddingRecord{}
	for rows.Next() {
		var (
			name string
			blob []byte
		)
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, err
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		records = append(records, EmbeddingRecord{Name: name, Vector: vec})
	}
	return records, rows.Err()
}
