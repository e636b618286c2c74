package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/discount"
)

// createDiscountRequest is the decoded body of POST /api/discounts. Pointers
// distinguish absent fields from zero values.
type createDiscountRequest struct {
	ConditionType      *string
	Value              *string
	DiscountName       *string
	ValidityDate       *string
	DiscountPercentage *string
	Choice             *string
}

func decodeCreateDiscount(data []byte) (createDiscountRequest, error) {
	var req createDiscountRequest
	str := func(d *jx.Decoder, dst **string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		*dst = &s
		return nil
	}
	num := func(d *jx.Decoder, dst **string, field string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		v, err := decodeNumeric(d)
		if err != nil {
			return &discount.ValidationError{Field: field, Reason: "must be a number"}
		}
		s := v.String()
		*dst = &s
		return nil
	}

	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "conditionType":
			return str(d, &req.ConditionType)
		case "value":
			return num(d, &req.Value, "value")
		case "discountName":
			return str(d, &req.DiscountName)
		case "validityDate":
			return str(d, &req.ValidityDate)
		case "discountPercentage":
			return num(d, &req.DiscountPercentage, "discountPercentage")
		case "choice":
			return str(d, &req.Choice)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		var vErr *discount.ValidationError
		if errors.As(err, &vErr) {
			return req, vErr
		}
		return req, &discount.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return req, nil
}

// definition converts the request into a rule definition, reporting the
// first missing or malformed field.
func (req createDiscountRequest) definition() (discount.Definition, error) {
	required := []struct {
		name  string
		value *string
	}{
		{"conditionType", req.ConditionType},
		{"value", req.Value},
		{"discountName", req.DiscountName},
		{"validityDate", req.ValidityDate},
		{"discountPercentage", req.DiscountPercentage},
		{"choice", req.Choice},
	}
	for _, f := range required {
		if f.value == nil || strings.TrimSpace(*f.value) == "" {
			return discount.Definition{}, &discount.ValidationError{Field: f.name, Reason: "required"}
		}
	}

	condType, ok := discount.ParseConditionType(*req.ConditionType)
	if !ok {
		return discount.Definition{}, &discount.ValidationError{
			Field: "conditionType", Reason: "must be one of stock, price",
		}
	}
	cmp, ok := discount.ParseComparator(*req.Choice)
	if !ok {
		return discount.Definition{}, &discount.ValidationError{
			Field: "choice", Reason: "must be one of greater than, less than",
		}
	}
	validUntil, err := parseDate(*req.ValidityDate)
	if err != nil {
		return discount.Definition{}, &discount.ValidationError{
			Field: "validityDate", Reason: "must be RFC 3339 or YYYY-MM-DD",
		}
	}

	// Numeric fields were normalized by the decoder.
	threshold, _ := decimal.NewFromString(*req.Value)
	percentage, _ := decimal.NewFromString(*req.DiscountPercentage)

	def := discount.Definition{
		Name: strings.TrimSpace(*req.DiscountName),
		Condition: discount.Condition{
			Type:       condType,
			Comparator: cmp,
			Threshold:  threshold,
		},
		Percentage: percentage,
		ValidUntil: validUntil,
	}
	return def, def.Validate()
}

// CreateDiscount handles POST /api/discounts.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	req, err := decodeCreateDiscount(data)
	if err != nil {
		mapError(w, r, err)
		return
	}
	def, err := req.definition()
	if err != nil {
		mapError(w, r, err)
		return
	}

	rule, err := h.discounts.CreateRule(r.Context(), def)
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeRule(e, rule) })
}

// ApplyDiscount handles PUT /api/discounts/{productId}/apply.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	out, err := h.discounts.ApplyToProduct(r.Context(), r.PathValue("productId"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("applied")
		e.Bool(out.Applied())
		e.FieldStart("status")
		e.Str(string(out.Status))
		if out.RuleID != "" {
			e.FieldStart("ruleId")
			e.Str(out.RuleID)
		}
		e.ObjEnd()
	})
}

// ListDiscountedProducts handles GET /api/discounts/products.
func (h *Handler) ListDiscountedProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summaries, err := h.discounts.DiscountedProducts(r.Context(), q.Get("discountId"), pageParam(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("products")
		e.ArrStart()
		for _, s := range summaries {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(s.ID)
			e.FieldStart("price")
			encodeDecimal(e, s.Price)
			e.FieldStart("discountedPrice")
			encodeDecimal(e, s.DiscountedPrice)
			e.FieldStart("images")
			encodeStrings(e, h.imageURLs(s.Images))
			e.FieldStart("rating")
			encodeDecimal(e, s.Rating)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetDiscount handles GET /api/discounts/{ruleId}.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	rule, err := h.discounts.GetRule(r.Context(), r.PathValue("ruleId"))
	if err != nil {
		mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeRule(e, rule) })
}

func encodeRule(e *jx.Encoder, rule *discount.Rule) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rule.ID)
	e.FieldStart("discountName")
	e.Str(rule.Name)
	e.FieldStart("conditionType")
	e.Str(string(rule.Condition.Type))
	e.FieldStart("choice")
	e.Str(string(rule.Condition.Comparator))
	e.FieldStart("value")
	encodeDecimal(e, rule.Condition.Threshold)
	e.FieldStart("discountPercentage")
	encodeDecimal(e, rule.Percentage)
	e.FieldStart("discountValidity")
	encodeTime(e, rule.ValidUntil)
	e.FieldStart("assignedProducts")
	encodeStrings(e, rule.AssignedProducts)
	e.FieldStart("createdAt")
	encodeTime(e, rule.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, rule.UpdatedAt)
	e.ObjEnd()
}
