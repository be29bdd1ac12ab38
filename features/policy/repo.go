package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// notFound maps a missing row, or an id that is not a valid UUID, to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
		return ErrNotFound
	}
	return err
}

func (r *PostgresRepo) EnsureState(ctx context.Context, name string) (string, error) {
	var id string
	query := `INSERT INTO states (name) VALUES ($1) ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *PostgresRepo) Create(ctx context.Context, p *Policy) error {
	query := `INSERT INTO policies (state_id, title, status) VALUES ($1, $2, $3) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, p.StateID, p.Title, p.Status).Scan(&p.ID, &p.CreatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Policy, error) {
	p := &Policy{}
	query := `
		SELECT p.id, p.state_id, s.name, p.title, p.status, p.processed_at, p.created_at
		FROM policies p
		JOIN states s ON s.id = p.state_id
		WHERE p.id = $1
	`
	var processedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.StateID, &p.StateName, &p.Title, &p.Status, &processedAt, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	return p, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Policy, error) {
	query := `
		SELECT p.id, p.state_id, s.name, p.title, p.status, p.processed_at, p.created_at
		FROM policies p
		JOIN states s ON s.id = p.state_id
		ORDER BY p.created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	policies := []Policy{}
	for rows.Next() {
		var p Policy
		var processedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.StateID, &p.StateName, &p.Title, &p.Status, &processedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		if processedAt.Valid {
			p.ProcessedAt = &processedAt.Time
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, status Status) error {
	query := `UPDATE policies SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string) error {
	query := `UPDATE policies SET status = $1, processed_at = NOW(), updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, StatusCompleted, id)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM policies WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return notFound(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	query := `SELECT status, COUNT(*) FROM policies GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ReplaceChunks swaps the policy's chunk rows for the given set in one transaction.
func (r *PostgresRepo) ReplaceChunks(ctx context.Context, policyID string, chunks []PolicyChunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_chunks WHERE policy_id = $1`, policyID); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}

	if len(chunks) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO policy_chunks (id, policy_id, content, page_number, chunk_index)
			VALUES ($1, $2, $3, $4, $5)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, c.ID, policyID, c.Content, c.PageNumber, c.ChunkIndex); err != nil {
				return fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) ListChunks(ctx context.Context, policyID string) ([]PolicyChunk, error) {
	query := `SELECT id, policy_id, content, page_number, chunk_index FROM policy_chunks WHERE policy_id = $1 ORDER BY chunk_index`
	rows, err := r.db.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []PolicyChunk{}
	for rows.Next() {
		var c PolicyChunk
		if err := rows.Scan(&c.ID, &c.PolicyID, &c.Content, &c.PageNumber, &c.ChunkIndex); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepo) GetChunksByIDs(ctx context.Context, ids []string) (map[string]PolicyChunk, error) {
	found := make(map[string]PolicyChunk, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := `SELECT id, policy_id, content, page_number, chunk_index FROM policy_chunks WHERE id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c PolicyChunk
		if err := rows.Scan(&c.ID, &c.PolicyID, &c.Content, &c.PageNumber, &c.ChunkIndex); err != nil {
			return nil, err
		}
		found[c.ID] = c
	}
	return found, rows.Err()
}

// CreateFacts inserts facts in one transaction. With replace set, the policy's
// existing facts are removed first.
func (r *PostgresRepo) CreateFacts(ctx context.Context, policyID string, facts []PolicyFact, replace bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM policy_facts WHERE policy_id = $1`, policyID); err != nil {
			return fmt.Errorf("clear facts: %w", err)
		}
	}

	if len(facts) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO policy_facts (policy_id, state_id, category, field, value, confidence, page_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, f := range facts {
			var page sql.NullInt64
			if f.PageNumber != nil {
				page = sql.NullInt64{Int64: int64(*f.PageNumber), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, policyID, f.StateID, f.Category, f.Field, f.Value, f.Confidence, page); err != nil {
				return fmt.Errorf("insert fact %q: %w", f.Field, err)
			}
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) ListFacts(ctx context.Context, policyID string) ([]PolicyFact, error) {
	query := `
		SELECT id, policy_id, state_id, category, field, value, confidence, page_number, created_at
		FROM policy_facts
		WHERE policy_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	facts := []PolicyFact{}
	for rows.Next() {
		var f PolicyFact
		var page sql.NullInt64
		if err := rows.Scan(&f.ID, &f.PolicyID, &f.StateID, &f.Category, &f.Field, &f.Value, &f.Confidence, &page, &f.CreatedAt); err != nil {
			return nil, err
		}
		if page.Valid {
			p := int(page.Int64)
			f.PageNumber = &p
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
