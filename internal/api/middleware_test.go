package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func chain(h http.Handler) http.Handler {
	mws := MiddlewareChain()
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = chiMiddleware.GetReqID(r.Context())
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if captured == "" {
		t.Fatalf("missing request id")
	}
}

func TestRecovererMiddleware(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
