// Package handler implements the storefront HTTP API on top of the discount
// engine and the catalog repository.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/product"
)

// DiscountService is the subset of the discount engine served over HTTP.
type DiscountService interface {
	CreateRule(ctx context.Context, def discount.Definition) (*discount.Rule, error)
	ApplyToProduct(ctx context.Context, productID string) (discount.Outcome, error)
	DiscountedProducts(ctx context.Context, ruleID string, page int) ([]discount.Summary, error)
	GetRule(ctx context.Context, id string) (*discount.Rule, error)
}

var _ DiscountService = (*discount.Evaluator)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in product responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
	// CatalogPageSize is the page length of GET /api/products.
	CatalogPageSize int
}

// Handler serves the /api routes.
type Handler struct {
	discounts       DiscountService
	products        product.Repository
	security        *SecurityHandler
	imageBaseURL    string
	catalogPageSize int
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	discounts DiscountService,
	products product.Repository,
	security *SecurityHandler,
) *Handler {
	pageSize := cfg.CatalogPageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Handler{
		discounts:       discounts,
		products:        products,
		security:        security,
		imageBaseURL:    cfg.ImageBaseURL,
		catalogPageSize: pageSize,
	}
}

// Register mounts all API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/discounts", h.security.Require(auth.RoleAdmin, http.HandlerFunc(h.CreateDiscount)))
	mux.HandleFunc("PUT /api/discounts/{productId}/apply", h.ApplyDiscount)
	mux.HandleFunc("GET /api/discounts/products", h.ListDiscountedProducts)
	mux.HandleFunc("GET /api/discounts/{ruleId}", h.GetDiscount)
	mux.HandleFunc("GET /api/products", h.ListProducts)
	mux.HandleFunc("GET /api/products/search", h.SearchProducts)
	mux.HandleFunc("GET /api/products/{productId}", h.GetProduct)
}

// pageParam parses the page query parameter. Missing or malformed values
// select the first page.
func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
