package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricerules/internal/domain/cart"
	"github.com/xenking/kart-pricerules/internal/domain/product"
)

const (
	getCartSQL = `SELECT id, member_id, config_id, coupons FROM carts WHERE id = $1`

	listCartItemsSQL = `SELECT ci.id, p.id, p.parent_id, p.type_id, p.name,
		ci.price, ci.quantity, ci.tax_free_price, ci.options, p.attributes,
		` + variantIDsSQL + `, ` + pagesSQL + `
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`

	saveCouponsSQL = `UPDATE carts SET coupons = $2 WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the cart with its line items.
func (r *CartRepository) Get(ctx context.Context, id int64) (*cart.Cart, error) {
	var c cart.Cart
	err := r.pool.QueryRow(ctx, getCartSQL, id).Scan(&c.ID, &c.MemberID, &c.ConfigID, &c.Coupons)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get cart %d", id)
	}

	rows, err := r.pool.Query(ctx, listCartItemsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of cart %d", id)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, errors.Wrapf(err, "scan items of cart %d", id)
	}
	return &c, nil
}

// SaveCoupons replaces the cart's coupon list.
func (r *CartRepository) SaveCoupons(ctx context.Context, id int64, codes []string) error {
	if codes == nil {
		codes = []string{}
	}
	tag, err := r.pool.Exec(ctx, saveCouponsSQL, id, codes)
	if err != nil {
		return errors.Wrapf(err, "save coupons of cart %d", id)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

func scanCartItem(row pgx.CollectableRow) (product.Product, error) {
	var (
		p              product.Product
		options, attrs []byte
	)
	if err := row.Scan(
		&p.LineID, &p.ID, &p.ParentID, &p.TypeID, &p.Name,
		&p.Price, &p.Quantity, &p.TaxFreePrice, &options, &attrs,
		&p.VariantIDs, &p.Pages,
	); err != nil {
		return p, err
	}
	var err error
	if p.Options, err = decodeAttributes(options); err != nil {
		return p, errors.Wrapf(err, "cart item %d options", p.LineID)
	}
	if p.Fields, err = decodeAttributes(attrs); err != nil {
		return p, errors.Wrapf(err, "product %d attributes", p.ID)
	}
	return p, nil
}
