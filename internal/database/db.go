// Package database is the Postgres store for users, hero image pointers
// and product listings.
package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/northpine/sitemedia/internal/database/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, p.db, ".")
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// --- users ---

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
        SELECT id, email, password_hash, created_at
        FROM users
        WHERE email = $1
    `
	var u User
	err := p.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	query := `
        INSERT INTO users (id, email, password_hash, created_at)
        VALUES ($1, $2, $3, $4)
    `
	_, err := p.db.ExecContext(ctx, query, u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- hero images ---

// UpsertHeroImage replaces the pointer row for a page. The primary key on
// page keeps the one-row-per-page invariant in the database itself.
func (p *PostgresStore) UpsertHeroImage(ctx context.Context, h *HeroImage) error {
	query := `
        INSERT INTO hero_images (page, public_url, storage_key, width, height, file_size, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (page) DO UPDATE SET
            public_url = EXCLUDED.public_url,
            storage_key = EXCLUDED.storage_key,
            width = EXCLUDED.width,
            height = EXCLUDED.height,
            file_size = EXCLUDED.file_size,
            updated_at = NOW()
    `
	_, err := p.db.ExecContext(ctx, query,
		h.Page, h.PublicURL, h.StorageKey, h.Width, h.Height, h.FileSize)
	return err
}

func (p *PostgresStore) GetHeroImage(ctx context.Context, page string) (*HeroImage, error) {
	query := `
        SELECT page, public_url, storage_key, width, height, file_size, updated_at
        FROM hero_images
        WHERE page = $1
    `
	var h HeroImage
	err := p.db.QueryRowContext(ctx, query, page).Scan(
		&h.Page,
		&h.PublicURL,
		&h.StorageKey,
		&h.Width,
		&h.Height,
		&h.FileSize,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (p *PostgresStore) DeleteHeroImage(ctx context.Context, page string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM hero_images WHERE page = $1`, page)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- products ---

func (p *PostgresStore) ListProducts(ctx context.Context) ([]*Product, error) {
	query := `
        SELECT id, slug, name, description, price_cents, image_url, position, created_at, updated_at
        FROM products
        WHERE deleted_at IS NULL
        ORDER BY position, created_at
    `
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		var pr Product
		if err := rows.Scan(&pr.ID, &pr.Slug, &pr.Name, &pr.Description,
			&pr.PriceCents, &pr.ImageURL, &pr.Position, &pr.CreatedAt, &pr.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, &pr)
	}
	return products, rows.Err()
}

func (p *PostgresStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	query := `
        SELECT id, slug, name, description, price_cents, image_url, position, created_at, updated_at
        FROM products
        WHERE id = $1 AND deleted_at IS NULL
    `
	var pr Product
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&pr.ID, &pr.Slug, &pr.Name, &pr.Description,
		&pr.PriceCents, &pr.ImageURL, &pr.Position, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *PostgresStore) CreateProduct(ctx context.Context, pr *Product) error {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	query := `
        INSERT INTO products (id, slug, name, description, price_cents, image_url, position, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
    `
	_, err := p.db.ExecContext(ctx, query,
		pr.ID, pr.Slug, pr.Name, pr.Description, pr.PriceCents, pr.ImageURL, pr.Position)
	return err
}

func (p *PostgresStore) UpdateProduct(ctx context.Context, pr *Product) error {
	query := `
        UPDATE products
        SET slug = $2, name = $3, description = $4, price_cents = $5, position = $6, updated_at = NOW()
        WHERE id = $1 AND deleted_at IS NULL
    `
	result, err := p.db.ExecContext(ctx, query,
		pr.ID, pr.Slug, pr.Name, pr.Description, pr.PriceCents, pr.Position)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetProductImage attaches an uploaded image URL to a product. Product
// uploads never write this automatically; the dashboard calls it once the
// upload settles.
func (p *PostgresStore) SetProductImage(ctx context.Context, id, imageURL string) error {
	query := `
        UPDATE products
        SET image_url = $2, updated_at = NOW()
        WHERE id = $1 AND deleted_at IS NULL
    `
	result, err := p.db.ExecContext(ctx, query, id, imageURL)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (p *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	query := `
        UPDATE products
        SET deleted_at = NOW()
        WHERE id = $1 AND deleted_at IS NULL
    `
	result, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
