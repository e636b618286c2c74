package httpmiddleware

import (
	"net/http"
	"strings"
)

// RouteFinder returns the registered route pattern serving r.
type RouteFinder func(r *http.Request) (string, bool)

// MakeRouteFinder resolves routes through the patterns registered on mux.
// The method prefix of a pattern such as "GET /api/products/{productId}" is
// stripped.
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) (string, bool) {
		_, pattern := mux.Handler(r)
		if pattern == "" {
			return "", false
		}
		if i := strings.IndexByte(pattern, ' '); i >= 0 {
			pattern = pattern[i+1:]
		}
		return pattern, true
	}
}
