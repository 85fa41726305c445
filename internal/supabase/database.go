package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"studio-ingest/internal/manifest"
	"studio-ingest/internal/models"
	"studio-ingest/internal/store"
)

// DatabaseClient is the Postgres implementation of store.Store.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// NewDatabaseClientFromDB wraps an already opened pool.
func NewDatabaseClientFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) CreateProject(ctx context.Context, p *models.Project) error {
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, owner_id, title)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, p.ID, p.OwnerID, p.Title).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := d.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM projects
		WHERE id = $1
	`, id).Scan(&p.ID, &p.OwnerID, &p.Title, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (d *DatabaseClient) ListProjects(ctx context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM projects
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Title, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (d *DatabaseClient) UpsertProject(ctx context.Context, p *models.Project) error {
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, owner_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, updated_at = NOW()
		WHERE projects.owner_id = EXCLUDED.owner_id
		RETURNING created_at, updated_at
	`, p.ID, p.OwnerID, p.Title).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("project %s belongs to another owner: %w", p.ID, store.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

const insertAsset = `
	INSERT INTO assets (id, project_id, batch_id, filename, size, role, source_id, content_type, sha256, storage_path)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func (d *DatabaseClient) AddAssets(ctx context.Context, assets []models.Asset) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return insertAssets(ctx, tx, assets)
	})
}

func (d *DatabaseClient) ReplaceAssets(ctx context.Context, projectID uuid.UUID, assets []models.Asset) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE project_id = $1`, projectID); err != nil {
			return fmt.Errorf("failed to clear assets: %w", err)
		}
		rows := make([]models.Asset, len(assets))
		for i, a := range assets {
			a.ProjectID = projectID
			rows[i] = a
		}
		return insertAssets(ctx, tx, rows)
	})
}

func insertAssets(ctx context.Context, tx *sql.Tx, assets []models.Asset) error {
	for _, a := range assets {
		_, err := tx.ExecContext(ctx, insertAsset,
			a.ID, a.ProjectID, a.BatchID, a.Filename, a.Size, string(a.Role),
			a.SourceID, a.ContentType, a.SHA256, a.StoragePath)
		if err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", a.ID, err)
		}
	}
	return nil
}

const selectAssets = `
	SELECT id, project_id, batch_id, filename, size, role, source_id, content_type, sha256, storage_path, created_at
	FROM assets
`

func (d *DatabaseClient) ListAssets(ctx context.Context, projectID uuid.UUID) ([]models.Asset, error) {
	return d.queryAssets(ctx, selectAssets+`WHERE project_id = $1 ORDER BY created_at ASC, id ASC`, projectID)
}

func (d *DatabaseClient) ListBatchAssets(ctx context.Context, batchID uuid.UUID) ([]models.Asset, error) {
	return d.queryAssets(ctx, selectAssets+`WHERE batch_id = $1 ORDER BY created_at ASC, id ASC`, batchID)
}

func (d *DatabaseClient) queryAssets(ctx context.Context, query string, arg interface{}) ([]models.Asset, error) {
	rows, err := d.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var (
			a    models.Asset
			role string
		)
		err := rows.Scan(
			&a.ID, &a.ProjectID, &a.BatchID, &a.Filename, &a.Size, &role,
			&a.SourceID, &a.ContentType, &a.SHA256, &a.StoragePath, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a.Role = manifest.Role(role)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (d *DatabaseClient) CreateBatch(ctx context.Context, b *models.IngestBatch) error {
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO ingest_batches (id, project_id, owner_id, file_count, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, b.ID, b.ProjectID, b.OwnerID, b.FileCount, b.Status).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (d *DatabaseClient) GetBatch(ctx context.Context, id uuid.UUID) (*models.IngestBatch, error) {
	var b models.IngestBatch
	err := d.db.QueryRowContext(ctx, `
		SELECT id, project_id, owner_id, file_count, status, error_message, created_at, updated_at
		FROM ingest_batches
		WHERE id = $1
	`, id).Scan(
		&b.ID, &b.ProjectID, &b.OwnerID, &b.FileCount,
		&b.Status, &b.ErrorMessage, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &b, nil
}

func (d *DatabaseClient) UpdateBatchStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE ingest_batches
		SET status = $1, error_message = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3
	`, status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (d *DatabaseClient) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}
