package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/discount"
)

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

// mapError converts domain errors to HTTP error responses. Unknown errors are
// logged and reported as 500 without details.
func mapError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *discount.ValidationError
		cErr *discount.ConflictError
		sErr *discount.StorageError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "admin role required")
	case errors.Is(err, discount.ErrRuleNotFound),
		errors.Is(err, discount.ErrProductNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &cErr):
		writeError(w, http.StatusConflict, cErr.Error())
	case errors.As(err, &sErr):
		zctx.From(r.Context()).Error("Storage failure",
			zap.String("op", sErr.Op),
			zap.Error(sErr.Err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
