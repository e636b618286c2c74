package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/discount"
)

const ruleColumns = `id, name, condition_type, comparator, threshold, percentage, valid_until,
	products, created_at, updated_at`

const (
	insertRuleSQL = `INSERT INTO discount_rules
			(id, name, condition_type, comparator, threshold, percentage, valid_until, products)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '{}')
		RETURNING created_at, updated_at`

	getRuleByIDSQL = `SELECT ` + ruleColumns + ` FROM discount_rules WHERE id = $1`

	listRulesSampleSQL = `SELECT ` + ruleColumns + ` FROM discount_rules ORDER BY seq LIMIT $1`

	// The row lock taken by UPDATE serializes concurrent appends, and the
	// WHERE clause is re-checked against the latest row version.
	appendRuleProductSQL = `UPDATE discount_rules
		SET products = array_append(products, $2::text), updated_at = now()
		WHERE id = $1 AND NOT ($2::text = ANY(products)) AND cardinality(products) < $3`

	ruleSlotStateSQL = `SELECT $2::text = ANY(products) FROM discount_rules WHERE id = $1`

	removeRuleProductSQL = `UPDATE discount_rules
		SET products = array_remove(products, $2::text), updated_at = now()
		WHERE id = $1`
)

var _ discount.Repository = (*RuleRepository)(nil)

// RuleRepository implements discount.Repository backed by PostgreSQL.
// Insertion order is the bigserial seq column.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository returns a RuleRepository that uses the given pool.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

// Create inserts a rule with an empty product list.
func (r *RuleRepository) Create(ctx context.Context, rule *discount.Rule) error {
	err := r.pool.QueryRow(ctx, insertRuleSQL,
		rule.ID,
		rule.Name,
		string(rule.Condition.Type),
		string(rule.Condition.Comparator),
		rule.Condition.Threshold,
		rule.Percentage,
		rule.ValidUntil,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert rule %q", rule.ID)
	}
	return nil
}

// GetByID returns a rule or discount.ErrRuleNotFound.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*discount.Rule, error) {
	rows, err := r.pool.Query(ctx, getRuleByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get rule %q", id)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrRuleNotFound
		}
		return nil, errors.Wrapf(err, "get rule %q", id)
	}
	return &rule, nil
}

// ListSample returns up to limit rules in insertion order.
func (r *RuleRepository) ListSample(ctx context.Context, limit int) ([]discount.Rule, error) {
	rows, err := r.pool.Query(ctx, listRulesSampleSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list rules")
	}
	return pgx.CollectRows(rows, scanRule)
}

// AppendProduct adds productID to the rule while it has spare capacity.
func (r *RuleRepository) AppendProduct(ctx context.Context, ruleID, productID string, capacity int) (bool, error) {
	tag, err := r.pool.Exec(ctx, appendRuleProductSQL, ruleID, productID, capacity)
	if err != nil {
		return false, errors.Wrapf(err, "append product %q to rule %q", productID, ruleID)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Nothing changed: the product is already listed, the rule is full, or
	// the rule does not exist.
	var listed bool
	if err := r.pool.QueryRow(ctx, ruleSlotStateSQL, ruleID, productID).Scan(&listed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, discount.ErrRuleNotFound
		}
		return false, errors.Wrapf(err, "check rule %q", ruleID)
	}
	if listed {
		return false, nil
	}
	return false, discount.ErrRuleFull
}

// RemoveProduct drops productID from the rule's list.
func (r *RuleRepository) RemoveProduct(ctx context.Context, ruleID, productID string) error {
	tag, err := r.pool.Exec(ctx, removeRuleProductSQL, ruleID, productID)
	if err != nil {
		return errors.Wrapf(err, "remove product %q from rule %q", productID, ruleID)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrRuleNotFound
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var (
		rule       discount.Rule
		condType   string
		comparator string
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &condType, &comparator,
		&rule.Condition.Threshold, &rule.Percentage, &rule.ValidUntil,
		&rule.AssignedProducts, &rule.CreatedAt, &rule.UpdatedAt,
	)
	rule.Condition.Type = discount.ConditionType(condType)
	rule.Condition.Comparator = discount.Comparator(comparator)
	return rule, err
}
