package discount

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// ConditionType names the numeric product field a rule is gated on.
type ConditionType string

const (
	// ConditionStock compares the product's stock level.
	ConditionStock ConditionType = "stock"
	// ConditionPrice compares the product's base price.
	ConditionPrice ConditionType = "price"
)

// Comparator is the strict inequality applied between the product field
// and the rule threshold.
type Comparator string

const (
	GreaterThan Comparator = "greater than"
	LessThan    Comparator = "less than"
)

var hundred = decimal.NewFromInt(100)

// ParseConditionType converts wire text into a ConditionType.
func ParseConditionType(s string) (ConditionType, bool) {
	switch c := ConditionType(s); c {
	case ConditionStock, ConditionPrice:
		return c, true
	default:
		return "", false
	}
}

// ParseComparator converts wire text into a Comparator.
func ParseComparator(s string) (Comparator, bool) {
	switch c := Comparator(s); c {
	case GreaterThan, LessThan:
		return c, true
	default:
		return "", false
	}
}

// Condition is the eligibility test of a rule.
type Condition struct {
	Type       ConditionType
	Comparator Comparator
	Threshold  decimal.Decimal
}

// Matches evaluates the condition against p. Both comparators are strict:
// a stock of 10 is not "greater than 10".
func (c Condition) Matches(p product.Product) bool {
	var field decimal.Decimal
	switch c.Type {
	case ConditionStock:
		field = decimal.NewFromInt(p.Stock)
	case ConditionPrice:
		field = p.Price
	default:
		return false
	}

	switch c.Comparator {
	case GreaterThan:
		return field.GreaterThan(c.Threshold)
	case LessThan:
		return field.LessThan(c.Threshold)
	default:
		return false
	}
}

// Definition is the administrator input for a new rule.
type Definition struct {
	Name       string
	Condition  Condition
	Percentage decimal.Decimal
	ValidUntil time.Time
}

// Validate checks that every field is present and in range.
func (d Definition) Validate() error {
	switch {
	case d.Name == "":
		return &ValidationError{Field: "discountName", Reason: "required"}
	case d.Condition.Type == "":
		return &ValidationError{Field: "conditionType", Reason: "required"}
	case d.Condition.Comparator == "":
		return &ValidationError{Field: "choice", Reason: "required"}
	case d.ValidUntil.IsZero():
		return &ValidationError{Field: "validityDate", Reason: "required"}
	}
	if _, ok := ParseConditionType(string(d.Condition.Type)); !ok {
		return &ValidationError{Field: "conditionType", Reason: "must be one of stock, price"}
	}
	if _, ok := ParseComparator(string(d.Condition.Comparator)); !ok {
		return &ValidationError{Field: "choice", Reason: "must be one of greater than, less than"}
	}
	switch {
	case d.Condition.Threshold.Abs().GreaterThanOrEqual(maxThreshold):
		return &ValidationError{Field: "value", Reason: "out of range"}
	case !hasCents(d.Condition.Threshold):
		return &ValidationError{Field: "value", Reason: "at most 2 decimal places"}
	case d.Percentage.IsNegative() || d.Percentage.GreaterThan(hundred):
		return &ValidationError{Field: "discountPercentage", Reason: "must be between 0 and 100"}
	case !hasCents(d.Percentage):
		return &ValidationError{Field: "discountPercentage", Reason: "at most 2 decimal places"}
	}
	return nil
}

// maxThreshold bounds thresholds to what a NUMERIC(14,2) column holds.
var maxThreshold = decimal.New(1, 12)

func hasCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Rule is a stored discount rule with the products it has claimed.
type Rule struct {
	ID               string
	Name             string
	Condition        Condition
	Percentage       decimal.Decimal
	ValidUntil       time.Time
	AssignedProducts []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Has reports whether productID is already assigned to the rule.
func (r *Rule) Has(productID string) bool {
	return slices.Contains(r.AssignedProducts, productID)
}

// Terms computes the discount written onto p when this rule claims it:
// discountedPrice = price - price*percentage/100, rounded to cents.
func (r *Rule) Terms(p product.Product) product.Discount {
	amount := p.Price.Mul(r.Percentage).Div(hundred)
	return product.Discount{
		RuleID:          r.ID,
		Percentage:      r.Percentage,
		DiscountedPrice: p.Price.Sub(amount).Round(2),
		ValidUntil:      r.ValidUntil,
	}
}

// Repository is the rule store.
type Repository interface {
	// Create inserts r with an empty product list and fills in its
	// timestamps.
	Create(ctx context.Context, r *Rule) error
	GetByID(ctx context.Context, id string) (*Rule, error)
	// ListSample returns up to limit rules in insertion order.
	ListSample(ctx context.Context, limit int) ([]Rule, error)
	// AppendProduct atomically adds productID to the rule's list while it
	// holds fewer than capacity products. It reports false without error
	// when productID is already listed and returns ErrRuleFull when the
	// rule has no spare slot.
	AppendProduct(ctx context.Context, ruleID, productID string, capacity int) (bool, error)
	// RemoveProduct drops productID from the rule's list.
	RemoveProduct(ctx context.Context, ruleID, productID string) error
}
