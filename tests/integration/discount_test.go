//go:build integration

package integration

import (
	"net/http"
	"slices"
	"testing"
)

func newDiscount(name, condition, choice string, value any) discountRequest {
	return discountRequest{
		DiscountName:       name,
		ConditionType:      condition,
		Choice:             choice,
		Value:              value,
		DiscountPercentage: 20,
		ValidityDate:       "2030-12-31",
	}
}

func TestCreateDiscount_Auth(t *testing.T) {
	// Thresholds match no seeded product so the catalog is left untouched.
	req := newDiscount("Auth check", "price", "greater than", 100000)

	tests := []struct {
		name   string
		apiKey string
		want   int
	}{
		{name: "missing key", want: http.StatusUnauthorized},
		{name: "unknown key", apiKey: "not-a-key", want: http.StatusUnauthorized},
		{name: "customer key", apiKey: customerKey, want: http.StatusForbidden},
		{name: "admin key", apiKey: adminKey, want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPostWithAuth(t, "/api/discounts", req, tt.apiKey)
			defer resp.Body.Close()
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestCreateDiscount_Validation(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "empty body", body: map[string]any{}},
		{name: "unknown condition", body: newDiscount("x", "weight", "less than", 1)},
		{name: "unknown choice", body: newDiscount("x", "stock", "equal", 1)},
		{name: "value overflows storage", body: newDiscount("x", "price", "less than", 1e13)},
		{name: "value below a cent", body: newDiscount("x", "price", "less than", 9.999)},
		{name: "percentage out of range", body: discountRequest{
			DiscountName: "x", ConditionType: "stock", Choice: "less than",
			Value: 1, DiscountPercentage: 150, ValidityDate: "2030-01-01",
		}},
		{name: "bad date", body: discountRequest{
			DiscountName: "x", ConditionType: "stock", Choice: "less than",
			Value: 1, DiscountPercentage: 10, ValidityDate: "tomorrow",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doPostWithAuth(t, "/api/discounts", tt.body, adminKey)
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusBadRequest)
		})
	}
}

// TestDiscountLifecycle runs against the shared seeded catalog, so its steps
// are ordered.
func TestDiscountLifecycle(t *testing.T) {
	var premium, bulk discountResponse

	t.Run("create price rule", func(t *testing.T) {
		resp := doPostWithAuth(t, "/api/discounts", newDiscount("Premium", "price", "greater than", 8.5), adminKey)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusCreated)

		premium = decodeJSON[discountResponse](t, resp)
		if !slices.Equal(premium.AssignedProducts, []string{"prod-010"}) {
			t.Fatalf("assigned: got %v, want [prod-010]", premium.AssignedProducts)
		}
	})

	t.Run("create stock rule", func(t *testing.T) {
		resp := doPostWithAuth(t, "/api/discounts", newDiscount("Overstock", "stock", "greater than", 50), adminKey)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusCreated)

		bulk = decodeJSON[discountResponse](t, resp)
		want := []string{"prod-017", "prod-016", "prod-014", "prod-005"}
		if !slices.Equal(bulk.AssignedProducts, want) {
			t.Fatalf("assigned: got %v, want %v", bulk.AssignedProducts, want)
		}
	})

	t.Run("claimed product carries discount", func(t *testing.T) {
		resp := doGet(t, "/api/products/prod-016")
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)

		p := decodeJSON[productResponse](t, resp)
		if p.ActiveDiscountID != bulk.ID {
			t.Errorf("active discount: got %q, want %q", p.ActiveDiscountID, bulk.ID)
		}
		if p.DiscountedPrice != 3.16 {
			t.Errorf("discounted price: got %v, want 3.16", p.DiscountedPrice)
		}
	})

	t.Run("list discounted products", func(t *testing.T) {
		resp := doGet(t, "/api/discounts/products?discountId="+bulk.ID+"&page=1")
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)

		body := decodeJSON[productListResponse](t, resp)
		if len(body.Products) != 4 {
			t.Fatalf("expected 4 products, got %d", len(body.Products))
		}
		if body.Products[0].ID != "prod-017" {
			t.Errorf("first product: got %q, want prod-017", body.Products[0].ID)
		}
		for _, p := range body.Products {
			if p.DiscountedPrice <= 0 || p.DiscountedPrice >= p.Price {
				t.Errorf("product %s: discounted %v, price %v", p.ID, p.DiscountedPrice, p.Price)
			}
		}
	})

	t.Run("list unknown rule", func(t *testing.T) {
		resp := doGet(t, "/api/discounts/products?discountId=missing")
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("apply to discounted product", func(t *testing.T) {
		resp := doPut(t, "/api/discounts/prod-010/apply")
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)

		out := decodeJSON[applyResponse](t, resp)
		if out.Applied || out.Status != "already_discounted" || out.RuleID != premium.ID {
			t.Errorf("got %+v, want already_discounted by %s", out, premium.ID)
		}
	})

	t.Run("apply without match", func(t *testing.T) {
		resp := doPut(t, "/api/discounts/prod-001/apply")
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)

		out := decodeJSON[applyResponse](t, resp)
		if out.Applied || out.Status != "no_match" {
			t.Errorf("got %+v, want no_match", out)
		}
	})

	t.Run("apply to unknown product", func(t *testing.T) {
		resp := doPut(t, "/api/discounts/does-not-exist/apply")
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("get rule", func(t *testing.T) {
		resp := doGet(t, "/api/discounts/"+premium.ID)
		defer resp.Body.Close()
		expectStatus(t, resp, http.StatusOK)

		got := decodeJSON[discountResponse](t, resp)
		if got.DiscountName != "Premium" || got.Choice != "greater than" {
			t.Errorf("got %+v", got)
		}
	})
}
