package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/product"
)

// ListProducts handles GET /api/products: one page of the catalog, newest first.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListPage(r.Context(), product.Page{
		Number: pageParam(r),
		Size:   h.catalogPageSize,
	})
	if err != nil {
		mapError(w, r, errors.Wrap(err, "list products"))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for _, p := range products {
			e.ObjStart()
			h.encodeCard(e, p)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// SearchProducts handles GET /api/products/search?q=term: products with a
// category containing term, case-insensitively, newest first. The legacy
// searchTerm parameter is accepted as well.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	term := strings.TrimSpace(query.Get("q"))
	if term == "" {
		term = strings.TrimSpace(query.Get("searchTerm"))
	}
	if term == "" {
		mapError(w, r, &discount.ValidationError{Field: "q", Reason: "required"})
		return
	}

	page := pageParam(r)
	products, err := h.products.Search(r.Context(), term, product.Page{
		Number: page,
		Size:   h.catalogPageSize,
	})
	if err != nil {
		mapError(w, r, errors.Wrap(err, "search products"))
		return
	}
	if len(products) == 0 && page == 1 {
		writeError(w, http.StatusNotFound, "no products found for the given search term")
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for _, p := range products {
			e.ObjStart()
			e.FieldStart("name")
			e.Str(p.Name)
			h.encodeCard(e, p)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// encodeCard writes the listing fields of p into the current object.
func (h *Handler) encodeCard(e *jx.Encoder, p product.Product) {
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("price")
	encodeDecimal(e, p.Price)
	e.FieldStart("discountedPrice")
	encodeDecimal(e, p.DiscountedPrice)
	e.FieldStart("images")
	encodeStrings(e, h.imageURLs(p.Images))
	e.FieldStart("rating")
	encodeDecimal(e, p.Rating)
}

// GetProduct handles GET /api/products/{productId}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("productId"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			err = discount.ErrProductNotFound
		}
		mapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(p.ID)
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("description")
		e.Str(p.Description)
		e.FieldStart("category")
		encodeStrings(e, p.Category)
		e.FieldStart("images")
		encodeStrings(e, h.imageURLs(p.Images))
		e.FieldStart("rating")
		encodeDecimal(e, p.Rating)
		e.FieldStart("price")
		encodeDecimal(e, p.Price)
		e.FieldStart("stock")
		e.Int64(p.Stock)
		e.FieldStart("discount")
		encodeDecimal(e, p.DiscountPercentage)
		e.FieldStart("discountedPrice")
		encodeDecimal(e, p.DiscountedPrice)
		if p.DiscountValidUntil != nil {
			e.FieldStart("discountValidity")
			encodeTime(e, *p.DiscountValidUntil)
		}
		if p.ActiveDiscountID != "" {
			e.FieldStart("activeDiscountId")
			e.Str(p.ActiveDiscountID)
		}
		e.FieldStart("createdAt")
		encodeTime(e, p.CreatedAt)
		e.ObjEnd()
	})
}

// imageURLs prefixes relative image paths with the configured base URL.
func (h *Handler) imageURLs(images []string) []string {
	if h.imageBaseURL == "" {
		return images
	}
	out := make([]string, len(images))
	for i, img := range images {
		if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
			out[i] = img
			continue
		}
		out[i] = strings.TrimRight(h.imageBaseURL, "/") + "/" + strings.TrimLeft(img, "/")
	}
	return out
}
