package devserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"

	"github.com/matthewbaird/desk/internal/auth"
)

// Recovery turns a panicking handler into a 500 envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				glog.Errorf("devserver: panic serving %s %s: %v", r.Method, r.URL.Path, v)
				writeError(w, r.URL.Path, &Error{Status: http.StatusInternalServerError, ExcType: "Exception",
					Messages: []string{"internal server error"}})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Logging logs one line per request at verbosity 1.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		glog.V(1).Infof("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start),
			middleware.GetReqID(r.Context()))
	})
}

// Authenticate requires a bearer token signed by iss and puts its claims in
// the request context. With a nil issuer every request runs as
// Administrator.
func Authenticate(iss *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if iss == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, r.URL.Path, &Error{Status: http.StatusForbidden, ExcType: "PermissionError",
					Messages: []string{"not logged in"}})
				return
			}
			claims, err := iss.Parse(token)
			if err != nil {
				glog.V(1).Infof("devserver: rejecting token: %v", err)
				writeError(w, r.URL.Path, &Error{Status: http.StatusForbidden, ExcType: "PermissionError",
					Messages: []string{"invalid or expired session"}})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}
