package middleware

import (
	"mime"
	"net/http"

	"github.com/mapcal/mapcal/internal/api/models"
)

// MaxBodyBytes caps request bodies. A full calendar document with a long plan
// history stays well below it.
const MaxBodyBytes = 4 << 20

// ContentTypeJSON sets application/json unless a handler already chose a media
// type, as the iCalendar export does.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON guards requests that carry a body. A declared media type other than
// application/json is answered with 415; an undeclared one is let through. Bodies
// beyond MaxBodyBytes fail to read.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasBody(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		if declared := r.Header.Get("Content-Type"); declared != "" {
			if mt, _, err := mime.ParseMediaType(declared); err != nil || mt != "application/json" {
				writeProblem(w, r, models.KindUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}
