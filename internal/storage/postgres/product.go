package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricerules/internal/domain/product"
)

// variantIDsSQL and pagesSQL are correlated subqueries over the product
// aliased as p. Variants are all children of the product or its parent;
// pages include the parent's placement.
const (
	variantIDsSQL = `COALESCE((SELECT array_agg(v.id ORDER BY v.id) FROM products v
		WHERE v.parent_id = p.id OR (p.parent_id <> 0 AND v.parent_id = p.parent_id)), '{}')`

	pagesSQL = `COALESCE((SELECT array_agg(DISTINCT pc.page_id) FROM product_categories pc
		WHERE pc.product_id = p.id OR pc.product_id = p.parent_id), '{}')`

	getProductByIDSQL = `SELECT p.id, p.parent_id, p.type_id, p.name, p.price, p.tax_free_price, p.attributes,
		` + variantIDsSQL + `, ` + pagesSQL + `
		FROM products p WHERE p.id = $1`
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

// GetByID returns a catalog product with its variants and category pages.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		attrs []byte
	)
	if err := row.Scan(
		&p.ID, &p.ParentID, &p.TypeID, &p.Name, &p.Price, &p.TaxFreePrice, &attrs,
		&p.VariantIDs, &p.Pages,
	); err != nil {
		return p, err
	}
	fields, err := decodeAttributes(attrs)
	if err != nil {
		return p, errors.Wrapf(err, "product %d attributes", p.ID)
	}
	p.Fields = fields
	return p, nil
}

// decodeAttributes flattens a JSON object into string values. Numbers and
// nested values keep their literal JSON text, so numeric comparisons still
// see numbers.
func decodeAttributes(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(b)
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	out := make(map[string]string)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var v string
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			if err != nil {
				return err
			}
			v = s
		case jx.Bool:
			ok, err := d.Bool()
			if err != nil {
				return err
			}
			v = strconv.FormatBool(ok)
		case jx.Null:
			if err := d.Null(); err != nil {
				return err
			}
		default:
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			v = strings.TrimSpace(raw.String())
		}
		out[string(key)] = v
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}
