package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/member"
	"github.com/xenking/kart-pricerules/internal/domain/product"
)

const (
	upsertProductSQL = `INSERT INTO products (id, parent_id, type_id, name, price, tax_free_price, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			parent_id = EXCLUDED.parent_id,
			type_id = EXCLUDED.type_id,
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			tax_free_price = EXCLUDED.tax_free_price,
			attributes = EXCLUDED.attributes`

	deleteCategoriesSQL = `DELETE FROM product_categories WHERE product_id = $1`

	upsertMemberSQL = `INSERT INTO members (id, groups) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET groups = EXCLUDED.groups`

	upsertCartSQL = `INSERT INTO carts (id, member_id, config_id, coupons) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			member_id = EXCLUDED.member_id,
			config_id = EXCLUDED.config_id,
			coupons = EXCLUDED.coupons`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	insertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity, price, tax_free_price, options)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	// Rows written with explicit ids leave the serial sequences behind.
	syncSequencesSQL = `SELECT setval(pg_get_serial_sequence('products', 'id'), COALESCE((SELECT max(id) FROM products), 1)),
		setval(pg_get_serial_sequence('members', 'id'), COALESCE((SELECT max(id) FROM members), 1)),
		setval(pg_get_serial_sequence('carts', 'id'), COALESCE((SELECT max(id) FROM carts), 1))`
)

// CatalogWriter writes the catalog, member and cart rows the pricing service
// reads. Shop systems own this data in production; the writer backs demo
// seeding and tests.
type CatalogWriter struct {
	pool *pgxpool.Pool
}

// NewCatalogWriter returns a CatalogWriter that uses the given pool.
func NewCatalogWriter(pool *pgxpool.Pool) *CatalogWriter {
	return &CatalogWriter{pool: pool}
}

// UpsertProduct writes the product and replaces its category pages.
// Variant ids are derived from parent links and are not written.
func (w *CatalogWriter) UpsertProduct(ctx context.Context, p product.Product) error {
	attrs := p.Fields
	if attrs == nil {
		attrs = map[string]string{}
	}
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.ParentID, p.TypeID, p.Name, p.Price, p.TaxFreePrice, attrs)
		if err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		if _, err := tx.Exec(ctx, deleteCategoriesSQL, p.ID); err != nil {
			return errors.Wrapf(err, "delete categories of product %d", p.ID)
		}
		if len(p.Pages) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"product_categories"},
			[]string{"product_id", "page_id"},
			pgx.CopyFromSlice(len(p.Pages), func(i int) ([]any, error) {
				return []any{p.ID, p.Pages[i]}, nil
			}),
		)
		return errors.Wrapf(err, "insert categories of product %d", p.ID)
	})
}

// UpsertMember writes the member's group list.
func (w *CatalogWriter) UpsertMember(ctx context.Context, m member.Member) error {
	groups := m.Groups
	if groups == nil {
		groups = []int64{}
	}
	if _, err := w.pool.Exec(ctx, upsertMemberSQL, m.ID, groups); err != nil {
		return errors.Wrapf(err, "upsert member %d", m.ID)
	}
	return nil
}

// SaveCart writes the cart and replaces its line items. The line ids
// assigned by the database are stored back into c.Items.
func (w *CatalogWriter) SaveCart(ctx context.Context, c *cart.Cart) error {
	coupons := c.Coupons
	if coupons == nil {
		coupons = []string{}
	}
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertCartSQL, c.ID, c.MemberID, c.ConfigID, coupons); err != nil {
			return errors.Wrapf(err, "upsert cart %d", c.ID)
		}
		if _, err := tx.Exec(ctx, deleteCartItemsSQL, c.ID); err != nil {
			return errors.Wrapf(err, "delete items of cart %d", c.ID)
		}

		b := &pgx.Batch{}
		for i := range c.Items {
			item := &c.Items[i]
			options := item.Options
			if options == nil {
				options = map[string]string{}
			}
			b.Queue(insertCartItemSQL, c.ID, item.ID, item.Quantity, item.Price, item.TaxFreePrice, options).
				QueryRow(func(row pgx.Row) error {
					return row.Scan(&item.LineID)
				})
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrapf(err, "insert items of cart %d", c.ID)
		}
		return nil
	})
}

// SyncSequences moves the id sequences past rows written with explicit ids.
func (w *CatalogWriter) SyncSequences(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, syncSequencesSQL); err != nil {
		return errors.Wrap(err, "sync sequences")
	}
	return nil
}
