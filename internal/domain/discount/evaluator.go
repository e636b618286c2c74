package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/product"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/discount"

// Config tunes the evaluator.
type Config struct {
	// Capacity is the maximum number of products a single rule may claim.
	Capacity int
	// SampleSize is the number of rules, in insertion order, the
	// retroactive path considers. It decides which rule wins when several
	// match.
	SampleSize int
	// PageSize is the page length of DiscountedProducts.
	PageSize int
	// StepTimeout bounds every individual storage call. Zero disables it.
	StepTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:    15,
		SampleSize:  5,
		PageSize:    6,
		StepTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	if c.SampleSize <= 0 {
		c.SampleSize = def.SampleSize
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	return c
}

// Status is the terminal state of a retroactive evaluation.
type Status string

const (
	StatusApplied           Status = "applied"
	StatusAlreadyDiscounted Status = "already_discounted"
	StatusNoMatch           Status = "no_match"
)

// Outcome describes what ApplyToProduct did.
type Outcome struct {
	Status Status
	// RuleID is the claiming rule for StatusApplied and
	// StatusAlreadyDiscounted (when known).
	RuleID string
}

// Applied reports whether this call claimed the product.
func (o Outcome) Applied() bool { return o.Status == StatusApplied }

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTracerProvider sets the tracer provider used for evaluator spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Evaluator) { e.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider used for evaluator counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Evaluator) { e.meter = mp.Meter(instrumentationName) }
}

// Evaluator is the discount rule engine.
type Evaluator struct {
	products product.Repository
	rules    Repository
	cfg      Config

	now   func() time.Time
	newID func() string

	tracer trace.Tracer
	meter  metric.Meter

	rulesCreated metric.Int64Counter
	claimed      metric.Int64Counter
	outcomes     metric.Int64Counter

	inflight singleflight.Group
}

// NewEvaluator creates an Evaluator over the given catalog and rule store.
func NewEvaluator(products product.Repository, rules Repository, cfg Config, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		products: products,
		rules:    rules,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		newID:    uuid.NewString,
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:    metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(e)
	}

	var err error
	if e.rulesCreated, err = e.meter.Int64Counter("discount.rules.created",
		metric.WithDescription("Discount rules created"),
	); err != nil {
		return nil, errors.Wrap(err, "rules created counter")
	}
	if e.claimed, err = e.meter.Int64Counter("discount.products.claimed",
		metric.WithDescription("Products claimed by a discount rule"),
	); err != nil {
		return nil, errors.Wrap(err, "products claimed counter")
	}
	if e.outcomes, err = e.meter.Int64Counter("discount.apply.outcomes",
		metric.WithDescription("Retroactive evaluation outcomes"),
	); err != nil {
		return nil, errors.Wrap(err, "apply outcomes counter")
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// CreateRule stores a new rule and claims up to Capacity matching,
// undiscounted products from a newest-first snapshot of the catalog.
//
// Every claim reserves a slot on the rule before writing the product, so
// retroactive claims running at the same time never push the rule past
// Capacity. Product writes are not rolled back if a later step fails; a
// retry starts the scan from scratch with a new rule.
func (e *Evaluator) CreateRule(ctx context.Context, def Definition) (_ *Rule, rerr error) {
	ctx, span := e.tracer.Start(ctx, "discount.CreateRule")
	defer func() { endSpan(span, rerr) }()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	rule := &Rule{
		ID:               e.newID(),
		Name:             def.Name,
		Condition:        def.Condition,
		Percentage:       def.Percentage,
		ValidUntil:       def.ValidUntil,
		AssignedProducts: make([]string, 0, e.cfg.Capacity),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.step(ctx, func(ctx context.Context) error {
		return e.rules.Create(ctx, rule)
	}); err != nil {
		return nil, storageErr("create rule", err)
	}
	e.rulesCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("condition", string(rule.Condition.Type)),
	))
	span.SetAttributes(attribute.String("discount.rule_id", rule.ID))

	var catalog []product.Product
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		catalog, err = e.products.ListNewestFirst(ctx)
		return err
	}); err != nil {
		return nil, storageErr("list catalog", err)
	}

	lg := zctx.From(ctx)
	for _, p := range catalog {
		if len(rule.AssignedProducts) >= e.cfg.Capacity {
			break
		}
		if rule.Has(p.ID) || p.Discounted() || !rule.Condition.Matches(p) {
			continue
		}

		err := e.claim(ctx, rule, p)
		if errors.Is(err, ErrRuleFull) {
			// Retroactive claims used the remaining slots.
			break
		}
		if errors.Is(err, product.ErrConflict) {
			lg.Debug("Product claimed concurrently, skipping",
				zap.String("rule_id", rule.ID),
				zap.String("product_id", p.ID),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		rule.AssignedProducts = append(rule.AssignedProducts, p.ID)
		e.claimed.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "bulk")))
	}

	// The stored list also holds products claimed retroactively while the
	// scan was running.
	var stored *Rule
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		stored, err = e.rules.GetByID(ctx, rule.ID)
		return err
	}); err != nil {
		return nil, storageErr("load rule", err)
	}

	lg.Info("Discount rule created",
		zap.String("rule_id", stored.ID),
		zap.Int("products", len(stored.AssignedProducts)),
		zap.Int("catalog", len(catalog)),
	)
	return stored, nil
}

// claim reserves a slot on rule for p, then writes the rule's terms onto p.
// The slot is released again when the product write fails, so a rule never
// lists a product it does not hold. Returns ErrRuleFull when the rule has no
// spare slot and product.ErrConflict when p was claimed by someone else.
func (e *Evaluator) claim(ctx context.Context, rule *Rule, p product.Product) error {
	var added bool
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		added, err = e.rules.AppendProduct(ctx, rule.ID, p.ID, e.cfg.Capacity)
		return err
	}); err != nil {
		if errors.Is(err, ErrRuleFull) {
			return ErrRuleFull
		}
		return storageErr("reserve slot on rule "+rule.ID, err)
	}
	if !added {
		// Another call is claiming p for this rule.
		return product.ErrConflict
	}

	terms := rule.Terms(p)
	err := e.step(ctx, func(ctx context.Context) error {
		return e.products.ApplyDiscount(ctx, p.ID, p.Version, terms)
	})
	if err == nil {
		return nil
	}

	if rerr := e.step(ctx, func(ctx context.Context) error {
		return e.rules.RemoveProduct(ctx, rule.ID, p.ID)
	}); rerr != nil {
		zctx.From(ctx).Warn("Failed to release rule slot",
			zap.String("rule_id", rule.ID),
			zap.String("product_id", p.ID),
			zap.Error(rerr),
		)
		if errors.Is(err, product.ErrConflict) {
			return storageErr("release slot on rule "+rule.ID, rerr)
		}
	}
	if errors.Is(err, product.ErrConflict) {
		return err
	}
	return storageErr("apply discount to product "+p.ID, err)
}

// ApplyToProduct evaluates a single undiscounted product against the first
// SampleSize rules and lets the first matching rule with spare capacity
// claim it. Concurrent calls for the same product are collapsed: the call
// that runs the evaluation reports StatusApplied, calls that joined it see
// StatusAlreadyDiscounted. The evaluation outlives cancellation of the
// leading call's context.
func (e *Evaluator) ApplyToProduct(ctx context.Context, productID string) (Outcome, error) {
	var leader bool
	v, err, _ := e.inflight.Do(productID, func() (any, error) {
		leader = true
		return e.applyToProduct(context.WithoutCancel(ctx), productID)
	})
	if err != nil {
		return Outcome{}, err
	}
	out := v.(Outcome)
	if !leader && out.Status == StatusApplied {
		out.Status = StatusAlreadyDiscounted
	}
	return out, nil
}

func (e *Evaluator) applyToProduct(ctx context.Context, productID string) (_ Outcome, rerr error) {
	ctx, span := e.tracer.Start(ctx, "discount.ApplyToProduct",
		trace.WithAttributes(attribute.String("discount.product_id", productID)),
	)
	defer func() { endSpan(span, rerr) }()

	var p *product.Product
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		p, err = e.products.GetByID(ctx, productID)
		return err
	}); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return Outcome{}, ErrProductNotFound
		}
		return Outcome{}, storageErr("get product", err)
	}

	if p.Discounted() {
		return e.outcome(ctx, Outcome{Status: StatusAlreadyDiscounted, RuleID: p.ActiveDiscountID}), nil
	}

	var sample []Rule
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		sample, err = e.rules.ListSample(ctx, e.cfg.SampleSize)
		return err
	}); err != nil {
		return Outcome{}, storageErr("list rules", err)
	}

	for i := range sample {
		r := &sample[i]
		if len(r.AssignedProducts) >= e.cfg.Capacity || !r.Condition.Matches(*p) {
			continue
		}

		err := e.claim(ctx, r, *p)
		switch {
		case errors.Is(err, ErrRuleFull):
			// Filled up after the sample was read.
			continue
		case errors.Is(err, product.ErrConflict):
			return Outcome{}, &ConflictError{ProductID: p.ID, Err: err}
		case err != nil:
			return Outcome{}, err
		}
		e.claimed.Add(ctx, 1, metric.WithAttributes(attribute.String("path", "retroactive")))

		zctx.From(ctx).Info("Discount applied to product",
			zap.String("rule_id", r.ID),
			zap.String("product_id", p.ID),
		)
		return e.outcome(ctx, Outcome{Status: StatusApplied, RuleID: r.ID}), nil
	}

	return e.outcome(ctx, Outcome{Status: StatusNoMatch}), nil
}

func (e *Evaluator) outcome(ctx context.Context, o Outcome) Outcome {
	e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(o.Status))))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("discount.outcome", string(o.Status)))
	return o
}

// GetRule returns a stored rule.
func (e *Evaluator) GetRule(ctx context.Context, id string) (*Rule, error) {
	var r *Rule
	if err := e.step(ctx, func(ctx context.Context) (err error) {
		r, err = e.rules.GetByID(ctx, id)
		return err
	}); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, storageErr("get rule", err)
	}
	return r, nil
}

func (e *Evaluator) step(ctx context.Context, fn func(context.Context) error) error {
	if e.cfg.StepTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	return fn(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
