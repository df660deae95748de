package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ridedispatch/internal/logging"
	"ridedispatch/internal/memstore"
	"ridedispatch/internal/observability"
)

func newIdempotentRouter(calls *atomic.Int32, status int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyMiddleware(memstore.NewResponseCache(nil), logging.Discard()))
	r.POST("/v1/rides", func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(status, gin.H{"call": n})
	})
	r.GET("/v1/rides", func(c *gin.Context) {
		n := calls.Add(1)
		c.JSON(http.StatusOK, gin.H{"call": n})
	})
	return r
}

func send(r *gin.Engine, method, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/v1/rides", strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls atomic.Int32
	r := newIdempotentRouter(&calls, http.StatusCreated)

	first := send(r, http.MethodPost, "key-1")
	second := send(r, http.MethodPost, "key-1")

	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %s, want %d %s", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get(replayHeader) != "true" {
		t.Error("replay header missing")
	}

	send(r, http.MethodPost, "key-2")
	if calls.Load() != 2 {
		t.Errorf("different key did not reach handler")
	}
}

func TestIdempotency_SkipsWithoutKeyAndForReads(t *testing.T) {
	var calls atomic.Int32
	r := newIdempotentRouter(&calls, http.StatusCreated)

	send(r, http.MethodPost, "")
	send(r, http.MethodPost, "")
	send(r, http.MethodGet, "key-1")
	send(r, http.MethodGet, "key-1")

	if calls.Load() != 4 {
		t.Errorf("handler called %d times, want 4", calls.Load())
	}
}

func TestIdempotency_ServerErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	r := newIdempotentRouter(&calls, http.StatusInternalServerError)

	send(r, http.MethodPost, "key-1")
	send(r, http.MethodPost, "key-1")

	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}
}

func TestMetricsMiddleware_CountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware(logging.Discard()))
	r.GET("/v1/rides/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/rides/:id", "204")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/rides/"+id, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3", got)
	}
}
