package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/product"
)

const productColumns = `p.id, p.name, p.description, p.category, p.images, p.rating, p.price, p.stock,
	p.active_discount_id, p.discount_percentage, p.discounted_price, p.discount_valid_until,
	p.version, p.created_at, p.updated_at`

const (
	listProductsNewestSQL = `SELECT ` + productColumns + `
		FROM products p ORDER BY p.created_at DESC, p.id DESC`

	listProductsPageSQL = `SELECT ` + productColumns + `
		FROM products p ORDER BY p.created_at DESC, p.id DESC LIMIT $1 OFFSET $2`

	searchProductsSQL = `SELECT ` + productColumns + `
		FROM products p
		WHERE EXISTS (SELECT 1 FROM unnest(p.category) AS c WHERE c ILIKE '%' || $1 || '%')
		ORDER BY p.created_at DESC, p.id DESC LIMIT $2 OFFSET $3`

	getProductByIDSQL = `SELECT ` + productColumns + `
		FROM products p WHERE p.id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + `
		FROM unnest($1::text[]) WITH ORDINALITY AS u(id, ord)
		JOIN products p ON p.id = u.id
		ORDER BY u.ord`

	applyDiscountSQL = `UPDATE products SET
			active_discount_id = $3,
			discount_percentage = $4,
			discounted_price = $5,
			discount_valid_until = $6,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
			AND active_discount_id IS NULL AND discounted_price = 0`

	// Catalog columns only; discount state and version are left alone.
	upsertProductSQL = `INSERT INTO products
			(id, name, description, category, images, rating, price, stock, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			images = EXCLUDED.images,
			rating = EXCLUDED.rating,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			updated_at = now()`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// ListNewestFirst returns the whole catalog, newest first.
func (r *ProductRepository) ListNewestFirst(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsNewestSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListPage returns one page of the catalog, newest first.
func (r *ProductRepository) ListPage(ctx context.Context, page product.Page) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsPageSQL, page.Size, page.Offset())
	if err != nil {
		return nil, errors.Wrap(err, "list products page")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// likeEscaper makes a search term match literally inside an ILIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search returns one page of the products with a category containing term.
func (r *ProductRepository) Search(ctx context.Context, term string, page product.Page) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, searchProductsSQL, likeEscaper.Replace(term), page.Size, page.Offset())
	if err != nil {
		return nil, errors.Wrapf(err, "search products %q", term)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	return &p, nil
}

// GetByIDs returns the products matching ids, in the order of ids.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return []product.Product{}, nil
	}
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ApplyDiscount conditionally writes the discount terms onto a product.
func (r *ProductRepository) ApplyDiscount(ctx context.Context, id string, version int64, d product.Discount) error {
	tag, err := r.pool.Exec(ctx, applyDiscountSQL,
		id, version, d.RuleID, d.Percentage, d.DiscountedPrice, d.ValidUntil,
	)
	if err != nil {
		return errors.Wrapf(err, "apply discount to product %q", id)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrConflict
	}
	return nil
}

// Upsert inserts or updates catalog data for products in a single batch.
// Discount fields of existing rows are never modified.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range products {
		var createdAt *time.Time
		if !p.CreatedAt.IsZero() {
			createdAt = &p.CreatedAt
		}
		batch.Queue(upsertProductSQL,
			p.ID, p.Name, p.Description, nonNil(p.Category), nonNil(p.Images),
			p.Rating, p.Price, p.Stock, createdAt,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrapf(err, "upsert %d products", len(products))
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p          product.Product
		discountID *string
		validUntil *time.Time
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Category, &p.Images, &p.Rating, &p.Price, &p.Stock,
		&discountID, &p.DiscountPercentage, &p.DiscountedPrice, &validUntil,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if discountID != nil {
		p.ActiveDiscountID = *discountID
	}
	p.DiscountValidUntil = validUntil
	return p, err
}
