package products

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/precifica/precifica/internal/platform/db"
	"github.com/precifica/precifica/internal/platform/httpx"
	"github.com/precifica/precifica/internal/shared"
)

const itemUniqueConstraint = "ml_product_mappings_tenant_item_key"

var (
	// ErrAlreadyImported is returned when another run mapped the item first.
	ErrAlreadyImported = errors.New("marketplace item already imported")
	// ErrItemLinked indicates the marketplace item belongs to another product.
	ErrItemLinked = fmt.Errorf("marketplace item already linked to another product: %w", httpx.ErrDuplicate)
)

// Repository persists products and their marketplace mappings.
type Repository interface {
	GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (Product, error)
	ListImages(ctx context.Context, tenantID, productID uuid.UUID) ([]Image, error)
	GetMapping(ctx context.Context, tenantID, productID uuid.UUID) (*Mapping, error)
	FindMappingByItem(ctx context.Context, tenantID uuid.UUID, itemID string) (*Mapping, error)
	UpsertMapping(ctx context.Context, m Mapping) (Mapping, error)
	UpdateProduct(ctx context.Context, tenantID, productID uuid.UUID, update Update) error
	MarketplaceCategory(ctx context.Context, tenantID, categoryID uuid.UUID) (string, error)
	CreateImported(ctx context.Context, p Product, m Mapping) (Product, error)
	ListListings(ctx context.Context, tenantID uuid.UUID) ([]Listing, error)
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[SyncStatus]int, error)
	ListOrphans(ctx context.Context) ([]Orphan, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `p.id, p.tenant_id, p.name, COALESCE(p.sku, ''), p.sku_source, p.origin, p.cost_unit, p.price,
	COALESCE(p.description, ''), p.category_id, COALESCE(c.name, ''), COALESCE(p.ml_category_path, ''), p.stock,
	COALESCE(p.pictures, '[]'::jsonb), COALESCE(p.attributes, '[]'::jsonb), COALESCE(p.ml_variation_id, ''),
	p.weight_grams, p.created_at, p.updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var source, origin string
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.SKU, &source, &origin, &p.CostUnit, &p.Price,
		&p.Description, &p.CategoryID, &p.CategoryName, &p.MLCategoryPath, &p.Stock,
		&p.Pictures, &p.Attributes, &p.MLVariationID,
		&p.WeightGrams, &p.CreatedAt, &p.UpdatedAt)
	p.SKUSource = SKUSource(source)
	p.Origin = Origin(origin)
	return p, err
}

func (r *repository) GetProduct(ctx context.Context, tenantID, productID uuid.UUID) (Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p
		LEFT JOIN categories c ON c.id = p.category_id AND c.tenant_id = p.tenant_id
		WHERE p.tenant_id = $1 AND p.id = $2`
	p, err := scanProduct(r.pool.QueryRow(ctx, query, tenantID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", productID, shared.ErrNotFound)
	}
	return p, err
}

func (r *repository) ListImages(ctx context.Context, tenantID, productID uuid.UUID) ([]Image, error) {
	rows, err := r.pool.Query(ctx, `SELECT url, position FROM product_images
		WHERE tenant_id = $1 AND product_id = $2 ORDER BY position ASC, created_at ASC`, tenantID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.URL, &img.Position); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

const mappingColumns = `m.id, m.tenant_id, m.product_id, COALESCE(m.ml_item_id, ''), m.sync_status, m.last_sync_at,
	COALESCE(m.error_message, ''), COALESCE(m.ml_title, ''), m.ml_price, COALESCE(m.ml_permalink, ''),
	COALESCE(m.ml_category_id, ''), COALESCE(m.ml_listing_type, ''), COALESCE(m.ml_condition, ''),
	COALESCE(m.ml_status, ''), m.created_at, m.updated_at`

func scanMapping(row pgx.Row, extra ...any) (Mapping, error) {
	var m Mapping
	var status string
	dest := []any{&m.ID, &m.TenantID, &m.ProductID, &m.MLItemID, &status, &m.LastSyncAt,
		&m.ErrorMessage, &m.MLTitle, &m.MLPrice, &m.MLPermalink,
		&m.MLCategoryID, &m.MLListingType, &m.MLCondition,
		&m.MLStatus, &m.CreatedAt, &m.UpdatedAt}
	err := row.Scan(append(dest, extra...)...)
	m.SyncStatus = SyncStatus(status)
	return m, err
}

func (r *repository) GetMapping(ctx context.Context, tenantID, productID uuid.UUID) (*Mapping, error) {
	m, err := scanMapping(r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM ml_product_mappings m
		WHERE m.tenant_id = $1 AND m.product_id = $2`, tenantID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repository) FindMappingByItem(ctx context.Context, tenantID uuid.UUID, itemID string) (*Mapping, error) {
	m, err := scanMapping(r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM ml_product_mappings m
		WHERE m.tenant_id = $1 AND m.ml_item_id = $2`, tenantID, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const upsertMappingSQL = `INSERT INTO ml_product_mappings AS m
	(tenant_id, product_id, ml_item_id, sync_status, last_sync_at, error_message, ml_title, ml_price,
	 ml_permalink, ml_category_id, ml_listing_type, ml_condition, ml_status, created_at, updated_at)
	VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8,
	 NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14, $14)
	ON CONFLICT (tenant_id, product_id) DO UPDATE SET
		ml_item_id = COALESCE(EXCLUDED.ml_item_id, m.ml_item_id),
		sync_status = EXCLUDED.sync_status,
		last_sync_at = COALESCE(EXCLUDED.last_sync_at, m.last_sync_at),
		error_message = EXCLUDED.error_message,
		ml_title = COALESCE(EXCLUDED.ml_title, m.ml_title),
		ml_price = COALESCE(EXCLUDED.ml_price, m.ml_price),
		ml_permalink = COALESCE(EXCLUDED.ml_permalink, m.ml_permalink),
		ml_category_id = COALESCE(EXCLUDED.ml_category_id, m.ml_category_id),
		ml_listing_type = COALESCE(EXCLUDED.ml_listing_type, m.ml_listing_type),
		ml_condition = COALESCE(EXCLUDED.ml_condition, m.ml_condition),
		ml_status = COALESCE(EXCLUDED.ml_status, m.ml_status),
		updated_at = EXCLUDED.updated_at
	RETURNING ` + mappingColumns

func mappingArgs(m Mapping, now time.Time) []any {
	return []any{m.TenantID, m.ProductID, m.MLItemID, string(m.SyncStatus), m.LastSyncAt, m.ErrorMessage,
		m.MLTitle, m.MLPrice, m.MLPermalink, m.MLCategoryID, m.MLListingType, m.MLCondition, m.MLStatus, now}
}

// UpsertMapping writes the mapping keyed by (tenant_id, product_id). Empty
// marketplace fields keep their stored values; error_message is always replaced.
func (r *repository) UpsertMapping(ctx context.Context, m Mapping) (Mapping, error) {
	if m.SyncStatus == "" {
		m.SyncStatus = SyncStatusNotSynced
	}
	saved, err := scanMapping(r.pool.QueryRow(ctx, upsertMappingSQL, mappingArgs(m, time.Now().UTC())...))
	if db.IsUniqueViolation(err, itemUniqueConstraint) {
		return Mapping{}, ErrItemLinked
	}
	return saved, err
}

func (r *repository) UpdateProduct(ctx context.Context, tenantID, productID uuid.UUID, update Update) error {
	if len(update) == 0 {
		return nil
	}
	columns := update.Columns()
	for _, col := range columns {
		if _, ok := updatableColumns[col]; !ok {
			return fmt.Errorf("products: column %q is not updatable", col)
		}
	}

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for i, col := range columns {
		sets = append(sets, col+" = $"+strconv.Itoa(i+1))
		args = append(args, update[col])
	}
	if !update.Has("updated_at") {
		sets = append(sets, "updated_at = NOW()")
	}
	args = append(args, tenantID, productID)
	query := `UPDATE products SET ` + strings.Join(sets, ", ") +
		` WHERE tenant_id = $` + strconv.Itoa(len(columns)+1) + ` AND id = $` + strconv.Itoa(len(columns)+2)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", productID, shared.ErrNotFound)
	}
	return nil
}

func (r *repository) MarketplaceCategory(ctx context.Context, tenantID, categoryID uuid.UUID) (string, error) {
	var mlCategory string
	err := r.pool.QueryRow(ctx, `SELECT ml_category_id FROM ml_category_mappings
		WHERE tenant_id = $1 AND category_id = $2`, tenantID, categoryID).Scan(&mlCategory)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return mlCategory, err
}

// CreateImported inserts a product and its mapping in one transaction. When the
// item is already mapped the product insert is rolled back and
// ErrAlreadyImported is returned.
func (r *repository) CreateImported(ctx context.Context, p Product, m Mapping) (Product, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		err := tx.QueryRow(ctx, `INSERT INTO products
			(tenant_id, name, sku, sku_source, origin, cost_unit, price, description, ml_category_path, stock,
			 pictures, attributes, ml_variation_id, weight_grams, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10,
			 $11, $12, NULLIF($13, ''), $14, $15, $15)
			RETURNING id, created_at, updated_at`,
			p.TenantID, p.Name, p.SKU, string(p.SKUSource), string(OriginMercadoLivre), p.CostUnit, p.Price, p.Description, p.MLCategoryPath, p.Stock,
			jsonOrEmpty(p.Pictures), jsonOrEmpty(p.Attributes), p.MLVariationID, p.WeightGrams, now,
		).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}

		m.TenantID = p.TenantID
		m.ProductID = p.ID
		var mappingID uuid.UUID
		err = tx.QueryRow(ctx, `INSERT INTO ml_product_mappings
			(tenant_id, product_id, ml_item_id, sync_status, last_sync_at, ml_title, ml_price, ml_permalink,
			 ml_category_id, ml_listing_type, ml_condition, ml_status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			 NULLIF($11, ''), NULLIF($12, ''), $13, $13)
			ON CONFLICT (tenant_id, ml_item_id) DO NOTHING
			RETURNING id`,
			m.TenantID, m.ProductID, m.MLItemID, string(m.SyncStatus), m.LastSyncAt, m.MLTitle, m.MLPrice,
			m.MLPermalink, m.MLCategoryID, m.MLListingType, m.MLCondition, m.MLStatus, now,
		).Scan(&mappingID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyImported
		}
		if err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (r *repository) ListListings(ctx context.Context, tenantID uuid.UUID) ([]Listing, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+mappingColumns+`, p.name, COALESCE(p.sku, ''), p.cost_unit
		FROM ml_product_mappings m
		JOIN products p ON p.id = m.product_id AND p.tenant_id = m.tenant_id
		WHERE m.tenant_id = $1
		ORDER BY m.updated_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []Listing
	for rows.Next() {
		var l Listing
		m, err := scanMapping(rows, &l.ProductName, &l.SKU, &l.CostUnit)
		if err != nil {
			return nil, err
		}
		l.Mapping = m
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (r *repository) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[SyncStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT sync_status, COUNT(*) FROM ml_product_mappings
		WHERE tenant_id = $1 GROUP BY sync_status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[SyncStatus(status)] = count
	}
	return counts, rows.Err()
}

// ListOrphans finds marketplace-sourced products that never got a mapping,
// the gap left when a process dies between the two inserts outside a
// transaction.
func (r *repository) ListOrphans(ctx context.Context) ([]Orphan, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.tenant_id, p.id, p.name, p.created_at
		FROM products p
		LEFT JOIN ml_product_mappings m ON m.tenant_id = p.tenant_id AND m.product_id = p.id
		WHERE p.origin = $1 AND m.id IS NULL
		ORDER BY p.tenant_id, p.created_at`, string(OriginMercadoLivre))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []Orphan
	for rows.Next() {
		var o Orphan
		if err := rows.Scan(&o.TenantID, &o.ProductID, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

func jsonOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("[]")
	}
	return raw
}

var _ Repository = (*repository)(nil)
