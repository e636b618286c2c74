// Package catalog loads product data from JSON documents and gzip-compressed
// NDJSON dumps into the product store.
package catalog

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// ErrInvalidProduct is returned for records that decode but cannot be stored.
var ErrInvalidProduct = errors.New("invalid product")

// DecodeProduct reads one product object. Unknown fields are skipped and
// discount fields are ignored: catalog data never carries discount state.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id", "_id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "category":
			p.Category, err = decodeStrings(d)
		case "images":
			p.Images, err = decodeStrings(d)
		case "rating":
			p.Rating, err = decodeDecimal(d)
		case "price":
			p.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int64()
		case "createdAt":
			var s string
			if s, err = d.Str(); err == nil {
				p.CreatedAt, err = time.Parse(time.RFC3339, s)
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return product.Product{}, err
	}

	p.ID = strings.TrimSpace(p.ID)
	switch {
	case p.ID == "":
		return product.Product{}, errors.Wrap(ErrInvalidProduct, "missing id")
	case p.Name == "":
		return product.Product{}, errors.Wrapf(ErrInvalidProduct, "product %s: missing name", p.ID)
	case p.Price.IsNegative():
		return product.Product{}, errors.Wrapf(ErrInvalidProduct, "product %s: negative price", p.ID)
	case p.Stock < 0:
		return product.Product{}, errors.Wrapf(ErrInvalidProduct, "product %s: negative stock", p.ID)
	}
	return p, nil
}

// DecodeArray reads a JSON array of products.
func DecodeArray(data []byte) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := DecodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product %d", len(out))
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}

// decodeStrings accepts an array of strings or a single string.
func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		out = append(out, s)
		return err
	})
	return out, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(strings.TrimSpace(raw))
}
