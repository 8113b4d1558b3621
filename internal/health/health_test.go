package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridian-lab/fathom/internal/llm"
)

func staticChecker(name string, critical bool, status CheckStatus) *FuncChecker {
	return NewFuncChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestAllHealthyReportsReady(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.Register(staticChecker("redis", true, StatusHealthy)))
	require.NoError(t, m.Register(staticChecker("postgres", false, StatusHealthy)))

	rep := m.Check(context.Background())
	assert.Equal(t, StatusHealthy, rep.Status)
	assert.True(t, rep.Ready)
	assert.True(t, rep.Live)
	assert.Len(t, rep.Components, 2)
	assert.True(t, rep.Components["redis"].Critical)
}

func TestCriticalFailureBlocksReadiness(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.Register(staticChecker("redis", true, StatusUnhealthy)))
	require.NoError(t, m.Register(staticChecker("postgres", false, StatusHealthy)))

	rep := m.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, rep.Status)
	assert.False(t, rep.Ready)
	assert.True(t, rep.Live, "a failing dependency must not look like a dead process")
	assert.False(t, m.IsReady(context.Background()))
}

func TestSoftFailureOnlyDegrades(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.Register(staticChecker("redis", true, StatusHealthy)))
	require.NoError(t, m.Register(staticChecker("llm_sidecar", false, StatusUnhealthy)))

	rep := m.Check(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status)
	assert.True(t, rep.Ready)
}

func TestEmptyManagerIsNotReady(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))

	rep := m.Check(context.Background())
	assert.Equal(t, StatusUnknown, rep.Status)
	assert.False(t, rep.Ready)
	assert.True(t, rep.Live)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.Register(staticChecker("redis", true, StatusHealthy)))
	assert.Error(t, m.Register(staticChecker("redis", true, StatusHealthy)))
	assert.Error(t, m.Register(staticChecker("", false, StatusHealthy)))
}

func TestCheckHonorsCheckerTimeout(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	slow := NewFuncChecker("stuck", true, 50*time.Millisecond, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})
	require.NoError(t, m.Register(slow))

	start := time.Now()
	rep := m.Check(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusUnhealthy, rep.Status)
}

func TestStatusMarshalsAsName(t *testing.T) {
	b, err := json.Marshal(StatusDegraded)
	require.NoError(t, err)
	assert.Equal(t, `"degraded"`, string(b))
}

func TestProbeEndpoints(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.Register(staticChecker("redis", true, StatusHealthy)))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "components")

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis"`)
}

func TestProbeEndpointsWhenCriticalDown(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.Register(staticChecker("redis", true, StatusUnhealthy)))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not ready")
}

func TestSidecarCheckerAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := llm.NewClient(llm.Config{BaseURL: srv.URL, Timeout: time.Second}, zaptest.NewLogger(t))
	checker := NewSidecarChecker(client, time.Second)
	res := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	srv.Close()
	res = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
}
