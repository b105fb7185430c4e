package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/margin/{accountID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/margin/{accountID}", "418"))

	req := httptest.NewRequest(http.MethodGet, "/api/margin/acc-42", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/margin/{accountID}", "418"))
	assert.Equal(t, before+1, after)
}

func TestHandler_ExposesRebalancerMetrics(t *testing.T) {
	OrdersTotal.WithLabelValues("BUY", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rebalancer_orders_total"))
}
