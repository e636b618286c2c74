package discount

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// Summary is the listing projection of a discounted product.
type Summary struct {
	ID              string
	Price           decimal.Decimal
	DiscountedPrice decimal.Decimal
	Images          []string
	Rating          decimal.Decimal
}

// DiscountedProducts returns one page of the products claimed by a rule,
// in the rule's assignment order. Pages start at 1; lower values are
// treated as the first page. A missing rule id is reported as
// ErrRuleNotFound.
func (e *Evaluator) DiscountedProducts(ctx context.Context, ruleID string, page int) ([]Summary, error) {
	if ruleID == "" {
		return nil, ErrRuleNotFound
	}

	rule, err := e.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	var resolved []product.Product
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		resolved, err = e.products.GetByIDs(ctx, rule.AssignedProducts)
		return err
	}); err != nil {
		return nil, storageErr("resolve rule products", err)
	}

	window := product.Page{Number: page, Size: e.cfg.PageSize}
	start := window.Offset()
	if start >= len(resolved) {
		return []Summary{}, nil
	}
	end := min(start+window.Size, len(resolved))

	out := make([]Summary, 0, end-start)
	for _, p := range resolved[start:end] {
		out = append(out, Summary{
			ID:              p.ID,
			Price:           p.Price,
			DiscountedPrice: p.DiscountedPrice,
			Images:          p.Images,
			Rating:          p.Rating,
		})
	}
	return out, nil
}
