package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtsup "newsbot/internal/runtime/supervisor"
	logx "newsbot/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "newsbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s := New(Config{}, logx.Nop(), nil, WithGatherer(reg))
	rec := get(t, s.Handler(Config{}), "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "newsbot_test_total 3")
}

func TestHealthReportsSupervisors(t *testing.T) {
	sups := rtsup.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok := rtsup.NewSupervisor(ctx, rtsup.WithLogger(logx.Nop()), rtsup.WithCancelOnError(false))
	sups.Set("monitor", ok)

	s := New(Config{}, logx.Nop(), sups)
	rec := get(t, s.Handler(Config{}), "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, "ok", rep.Status)
	assert.Contains(t, rep.Supervisors, "monitor")

	bad := rtsup.NewSupervisor(ctx, rtsup.WithLogger(logx.Nop()), rtsup.WithCancelOnError(false))
	bad.Go("boom", func(context.Context) error { return errors.New("boom") })
	_ = bad.Wait(ctx)
	sups.Set("telegram.router", bad)

	rec = get(t, s.Handler(Config{}), "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestStatusEndpoint(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(Config{}), "/status", nil).Code)

	s = New(Config{}, logx.Nop(), nil, WithStatus(func(context.Context) any {
		return map[string]int{"subscribers": 2}
	}))
	rec := get(t, s.Handler(Config{}), "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"subscribers":2}`, rec.Body.String())
}

func TestTokenAuth(t *testing.T) {
	cfg := Config{Token: "s3cret"}
	s := New(cfg, logx.Nop(), nil, WithGatherer(prometheus.NewRegistry()))
	h := s.Handler(cfg)

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/healthz?token=nope", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz?token=s3cret", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics", map[string]string{"Authorization": "Bearer s3cret"}).Code)
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(Config{}), "/debug/pprof/", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(Config{Pprof: true}), "/debug/pprof/", nil).Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9090"))
	assert.True(t, isLoopbackAddr("localhost:9090"))
	assert.True(t, isLoopbackAddr("[::1]:9090"))
	assert.False(t, isLoopbackAddr(":9090"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9090"))
	assert.False(t, isLoopbackAddr("garbage"))
}

func TestServeLifecycle(t *testing.T) {
	cfg := Config{Enabled: true, Addr: "127.0.0.1:0"}
	s := New(cfg, logx.Nop(), rtsup.NewRegistry(), WithGatherer(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status": "ok"`)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	assert.Eventually(t, func() bool { return s.Addr() == "" }, 2*time.Second, 10*time.Millisecond)
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), nil)
	err := s.serveOnce(context.Background())
	assert.Error(t, err)
}
