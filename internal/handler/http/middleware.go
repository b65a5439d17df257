package http

import (
	"net/http"
	"strings"

	"github.com/utafrali/storefront/pkg/httputil"
)

// ContentTypeJSON rejects request bodies that declare a non-JSON content type.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
