package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/product"
)

// --- Mock implementations ---

type mockDiscounts struct {
	lastDef    *discount.Definition
	rule       *discount.Rule
	createErr  error
	outcome    discount.Outcome
	applyErr   error
	summaries  []discount.Summary
	listErr    error
	lastRuleID string
	lastPage   int
}

func (m *mockDiscounts) CreateRule(_ context.Context, def discount.Definition) (*discount.Rule, error) {
	m.lastDef = &def
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.rule, nil
}

func (m *mockDiscounts) ApplyToProduct(_ context.Context, _ string) (discount.Outcome, error) {
	return m.outcome, m.applyErr
}

func (m *mockDiscounts) DiscountedProducts(_ context.Context, ruleID string, page int) ([]discount.Summary, error) {
	m.lastRuleID, m.lastPage = ruleID, page
	return m.summaries, m.listErr
}

func (m *mockDiscounts) GetRule(_ context.Context, id string) (*discount.Rule, error) {
	if m.rule == nil || m.rule.ID != id {
		return nil, discount.ErrRuleNotFound
	}
	return m.rule, nil
}

type mockProductRepo struct {
	products []product.Product
	lastPage product.Page
	lastTerm string
	listErr  error
}

func (m *mockProductRepo) ListNewestFirst(_ context.Context) ([]product.Product, error) {
	return m.products, m.listErr
}

func (m *mockProductRepo) ListPage(_ context.Context, page product.Page) ([]product.Product, error) {
	m.lastPage = page
	return m.products, m.listErr
}

func (m *mockProductRepo) Search(_ context.Context, term string, page product.Page) ([]product.Product, error) {
	m.lastTerm, m.lastPage = term, page
	if m.listErr != nil {
		return nil, m.listErr
	}
	var hits []product.Product
	for _, p := range m.products {
		for _, c := range p.Category {
			if strings.Contains(strings.ToLower(c), strings.ToLower(term)) {
				hits = append(hits, p)
				break
			}
		}
	}
	if page.Number > 1 {
		return []product.Product{}, nil
	}
	return hits, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetByIDs(_ context.Context, _ []string) ([]product.Product, error) {
	return m.products, nil
}

func (m *mockProductRepo) ApplyDiscount(_ context.Context, _ string, _ int64, _ product.Discount) error {
	return nil
}

type mockAPIKeyRepo struct {
	keys map[string]*auth.APIKeyInfo
	err  error
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	k, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return k, nil
}

// --- Helpers ---

const (
	testPepper   = "pepper"
	adminKey     = "admin-secret"
	customerKey  = "customer-secret"
	validRuleDoc = `{
		"conditionType": "stock",
		"value": 10,
		"discountName": "Overstock",
		"validityDate": "2030-01-31",
		"discountPercentage": "20",
		"choice": "greater than"
	}`
)

func newKeyRepo() *mockAPIKeyRepo {
	admin := HashAPIKey(adminKey, []byte(testPepper))
	customer := HashAPIKey(customerKey, []byte(testPepper))
	return &mockAPIKeyRepo{keys: map[string]*auth.APIKeyInfo{
		admin:    {ID: "admin", KeyHash: admin, Name: "Admin", Role: auth.RoleAdmin},
		customer: {ID: "customer", KeyHash: customer, Name: "Customer", Role: auth.RoleCustomer},
	}}
}

func newTestServer(discounts *mockDiscounts, products *mockProductRepo) http.Handler {
	sec := NewSecurityHandler(newKeyRepo(), []byte(testPepper))
	h := NewHandler(HandlerConfig{ImageBaseURL: "https://cdn.example.com"}, discounts, products, sec)
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func do(t *testing.T, srv http.Handler, method, target, body, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func testRule() *discount.Rule {
	return &discount.Rule{
		ID:   "rule-1",
		Name: "Overstock",
		Condition: discount.Condition{
			Type:       discount.ConditionStock,
			Comparator: discount.GreaterThan,
			Threshold:  decimal.NewFromInt(10),
		},
		Percentage:       decimal.NewFromInt(20),
		ValidUntil:       time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC),
		AssignedProducts: []string{"p1", "p2"},
	}
}

// --- Tests ---

func TestCreateDiscount(t *testing.T) {
	discounts := &mockDiscounts{rule: testRule()}
	srv := newTestServer(discounts, &mockProductRepo{})

	w := do(t, srv, http.MethodPost, "/api/discounts", validRuleDoc, adminKey)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode(t, w)
	assert.Equal(t, "rule-1", body["id"])
	assert.Equal(t, []any{"p1", "p2"}, body["assignedProducts"])
	assert.Equal(t, float64(20), body["discountPercentage"])

	require.NotNil(t, discounts.lastDef)
	def := discounts.lastDef
	assert.Equal(t, "Overstock", def.Name)
	assert.Equal(t, discount.ConditionStock, def.Condition.Type)
	assert.Equal(t, discount.GreaterThan, def.Condition.Comparator)
	assert.True(t, decimal.NewFromInt(10).Equal(def.Condition.Threshold))
	assert.True(t, decimal.NewFromInt(20).Equal(def.Percentage))
	assert.Equal(t, time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC), def.ValidUntil)
}

func TestCreateDiscount_Auth(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing key", key: "", want: http.StatusUnauthorized},
		{name: "unknown key", key: "nope", want: http.StatusUnauthorized},
		{name: "customer key", key: customerKey, want: http.StatusForbidden},
		{name: "admin key", key: adminKey, want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discounts := &mockDiscounts{rule: testRule()}
			srv := newTestServer(discounts, &mockProductRepo{})

			w := do(t, srv, http.MethodPost, "/api/discounts", validRuleDoc, tt.key)
			assert.Equal(t, tt.want, w.Code)
			if tt.want != http.StatusCreated {
				assert.Nil(t, discounts.lastDef, "engine must not run for rejected callers")
				assert.Equal(t, float64(tt.want), decode(t, w)["code"])
			}
		})
	}
}

func TestCreateDiscount_Validation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "malformed json", body: `{`, field: "body"},
		{name: "missing name", body: `{"conditionType":"stock","value":1,"validityDate":"2030-01-01","discountPercentage":5,"choice":"less than"}`, field: "discountName"},
		{name: "missing value", body: `{"conditionType":"stock","discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":"less than"}`, field: "value"},
		{name: "null choice", body: `{"conditionType":"stock","value":1,"discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":null}`, field: "choice"},
		{name: "non numeric value", body: `{"conditionType":"stock","value":"lots","discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":"less than"}`, field: "value"},
		{name: "unknown condition", body: `{"conditionType":"rating","value":1,"discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":"less than"}`, field: "conditionType"},
		{name: "unknown comparator", body: `{"conditionType":"price","value":1,"discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":"equal"}`, field: "choice"},
		{name: "bad date", body: `{"conditionType":"price","value":1,"discountName":"x","validityDate":"tomorrow","discountPercentage":5,"choice":"less than"}`, field: "validityDate"},
		{name: "percentage out of range", body: `{"conditionType":"price","value":1,"discountName":"x","validityDate":"2030-01-01","discountPercentage":101,"choice":"less than"}`, field: "discountPercentage"},
		{name: "value overflows storage", body: `{"conditionType":"price","value":1e13,"discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":"less than"}`, field: "value"},
		{name: "value below a cent", body: `{"conditionType":"price","value":9.999,"discountName":"x","validityDate":"2030-01-01","discountPercentage":5,"choice":"less than"}`, field: "value"},
		{name: "percentage below a cent", body: `{"conditionType":"price","value":1,"discountName":"x","validityDate":"2030-01-01","discountPercentage":12.345,"choice":"less than"}`, field: "discountPercentage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discounts := &mockDiscounts{rule: testRule()}
			srv := newTestServer(discounts, &mockProductRepo{})

			w := do(t, srv, http.MethodPost, "/api/discounts", tt.body, adminKey)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w)["message"], tt.field)
			assert.Nil(t, discounts.lastDef)
		})
	}
}

func TestCreateDiscount_StorageError(t *testing.T) {
	discounts := &mockDiscounts{createErr: &discount.StorageError{Op: "create rule", Err: errors.New("db down")}}
	srv := newTestServer(discounts, &mockProductRepo{})

	w := do(t, srv, http.MethodPost, "/api/discounts", validRuleDoc, adminKey)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode(t, w)["message"])
}

func TestApplyDiscount(t *testing.T) {
	tests := []struct {
		name       string
		outcome    discount.Outcome
		err        error
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "applied",
			outcome:    discount.Outcome{Status: discount.StatusApplied, RuleID: "rule-1"},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"applied": true, "status": "applied", "ruleId": "rule-1"},
		},
		{
			name:       "already discounted",
			outcome:    discount.Outcome{Status: discount.StatusAlreadyDiscounted, RuleID: "rule-0"},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"applied": false, "status": "already_discounted", "ruleId": "rule-0"},
		},
		{
			name:       "no match",
			outcome:    discount.Outcome{Status: discount.StatusNoMatch},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"applied": false, "status": "no_match"},
		},
		{
			name:       "unknown product",
			err:        discount.ErrProductNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "conflict",
			err:        &discount.ConflictError{ProductID: "p1", Err: product.ErrConflict},
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&mockDiscounts{outcome: tt.outcome, applyErr: tt.err}, &mockProductRepo{})

			w := do(t, srv, http.MethodPut, "/api/discounts/p1/apply", "", "")
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != nil {
				assert.Equal(t, tt.wantBody, decode(t, w))
			}
		})
	}
}

func TestListDiscountedProducts(t *testing.T) {
	discounts := &mockDiscounts{summaries: []discount.Summary{{
		ID:              "p1",
		Price:           decimal.RequireFromString("49.99"),
		DiscountedPrice: decimal.RequireFromString("39.99"),
		Images:          []string{"p1.jpg"},
		Rating:          decimal.RequireFromString("4.5"),
	}}}
	srv := newTestServer(discounts, &mockProductRepo{})

	w := do(t, srv, http.MethodGet, "/api/discounts/products?discountId=rule-1&page=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rule-1", discounts.lastRuleID)
	assert.Equal(t, 2, discounts.lastPage)

	products := decode(t, w)["products"].([]any)
	require.Len(t, products, 1)
	got := products[0].(map[string]any)
	assert.Equal(t, "p1", got["id"])
	assert.Equal(t, 39.99, got["discountedPrice"])
	assert.Equal(t, []any{"https://cdn.example.com/p1.jpg"}, got["images"])
}

func TestListDiscountedProducts_PageDefaults(t *testing.T) {
	for _, q := range []string{"", "&page=0", "&page=abc", "&page=-3"} {
		discounts := &mockDiscounts{}
		srv := newTestServer(discounts, &mockProductRepo{})

		w := do(t, srv, http.MethodGet, "/api/discounts/products?discountId=r"+q, "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, discounts.lastPage, "query %q", q)
		assert.Equal(t, []any{}, decode(t, w)["products"])
	}
}

func TestListDiscountedProducts_NotFound(t *testing.T) {
	srv := newTestServer(&mockDiscounts{listErr: discount.ErrRuleNotFound}, &mockProductRepo{})

	w := do(t, srv, http.MethodGet, "/api/discounts/products", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, float64(404), decode(t, w)["code"])
}

func TestGetDiscount(t *testing.T) {
	srv := newTestServer(&mockDiscounts{rule: testRule()}, &mockProductRepo{})

	w := do(t, srv, http.MethodGet, "/api/discounts/rule-1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Overstock", body["discountName"])
	assert.Equal(t, "greater than", body["choice"])
	assert.Equal(t, "2030-01-31T00:00:00Z", body["discountValidity"])

	w = do(t, srv, http.MethodGet, "/api/discounts/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProducts(t *testing.T) {
	validUntil := time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC)
	products := &mockProductRepo{products: []product.Product{{
		ID:                 "p1",
		Name:               "Widget",
		Images:             []string{"https://other.example.com/w.jpg"},
		Price:              decimal.NewFromInt(50),
		Stock:              3,
		ActiveDiscountID:   "rule-1",
		DiscountPercentage: decimal.NewFromInt(10),
		DiscountedPrice:    decimal.NewFromInt(45),
		DiscountValidUntil: &validUntil,
	}}}
	srv := newTestServer(&mockDiscounts{}, products)

	t.Run("list", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/products?page=3", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, product.Page{Number: 3, Size: 10}, products.lastPage)

		items := decode(t, w)["products"].([]any)
		require.Len(t, items, 1)
		assert.Equal(t, []any{"https://other.example.com/w.jpg"}, items[0].(map[string]any)["images"])
	})

	t.Run("get", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/products/p1", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "rule-1", body["activeDiscountId"])
		assert.Equal(t, float64(45), body["discountedPrice"])
		assert.Equal(t, float64(3), body["stock"])
	})

	t.Run("get unknown", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/products/nope", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("list failure", func(t *testing.T) {
		failing := newTestServer(&mockDiscounts{}, &mockProductRepo{listErr: errors.New("db down")})
		w := do(t, failing, http.MethodGet, "/api/products", "", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestSearchProducts(t *testing.T) {
	products := &mockProductRepo{products: []product.Product{
		{ID: "p1", Name: "Chocolate cake", Category: []string{"Bakery", "Cakes"}, Price: decimal.NewFromInt(12)},
		{ID: "p2", Name: "Sourdough", Category: []string{"Bakery", "Bread"}, Price: decimal.NewFromInt(5)},
	}}
	srv := newTestServer(&mockDiscounts{}, products)

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantIDs  []string
		wantTerm string
		wantPage int
	}{
		{name: "case insensitive match", target: "/api/products/search?q=CAKE", wantCode: http.StatusOK, wantIDs: []string{"p1"}, wantTerm: "CAKE", wantPage: 1},
		{name: "shared category", target: "/api/products/search?q=bakery", wantCode: http.StatusOK, wantIDs: []string{"p1", "p2"}, wantTerm: "bakery", wantPage: 1},
		{name: "legacy parameter", target: "/api/products/search?searchTerm=bread", wantCode: http.StatusOK, wantIDs: []string{"p2"}, wantTerm: "bread", wantPage: 1},
		{name: "past last page", target: "/api/products/search?q=bakery&page=2", wantCode: http.StatusOK, wantIDs: []string{}, wantTerm: "bakery", wantPage: 2},
		{name: "no match", target: "/api/products/search?q=dairy", wantCode: http.StatusNotFound, wantTerm: "dairy", wantPage: 1},
		{name: "missing term", target: "/api/products/search", wantCode: http.StatusBadRequest},
		{name: "blank term", target: "/api/products/search?q=%20%20", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			products.lastTerm, products.lastPage = "", product.Page{}

			w := do(t, srv, http.MethodGet, tt.target, "", "")
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantTerm, products.lastTerm)
			if tt.wantTerm != "" {
				assert.Equal(t, product.Page{Number: tt.wantPage, Size: 10}, products.lastPage)
			}

			body := decode(t, w)
			if tt.wantCode == http.StatusBadRequest {
				assert.Contains(t, body["message"], "q")
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			items := body["products"].([]any)
			ids := make([]string, 0, len(items))
			for _, item := range items {
				ids = append(ids, item.(map[string]any)["id"].(string))
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	t.Run("projection", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/api/products/search?q=cakes", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		item := decode(t, w)["products"].([]any)[0].(map[string]any)
		assert.Equal(t, "Chocolate cake", item["name"])
		assert.Equal(t, float64(12), item["price"])
		assert.Contains(t, item, "discountedPrice")
		assert.NotContains(t, item, "stock")
	})

	t.Run("storage failure", func(t *testing.T) {
		failing := newTestServer(&mockDiscounts{}, &mockProductRepo{listErr: errors.New("db down")})
		w := do(t, failing, http.MethodGet, "/api/products/search?q=cake", "", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAuthenticate_RepositoryFailure(t *testing.T) {
	sec := NewSecurityHandler(&mockAPIKeyRepo{err: errors.New("db down")}, []byte(testPepper))

	_, err := sec.Authenticate(context.Background(), adminKey)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestAuthenticate_StoredHashMismatch(t *testing.T) {
	repo := &mockAPIKeyRepo{keys: map[string]*auth.APIKeyInfo{
		HashAPIKey(adminKey, []byte(testPepper)): {ID: "admin", KeyHash: "00ff", Role: auth.RoleAdmin},
	}}
	sec := NewSecurityHandler(repo, []byte(testPepper))

	_, err := sec.Authenticate(context.Background(), adminKey)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}
