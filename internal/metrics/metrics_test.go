package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordOperation(t *testing.T) {
	m := New()
	m.RecordOperation("create", nil)
	m.RecordOperation("create", nil)
	m.RecordOperation("create", errors.New("duplicate"))

	require.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create", "error")))
}

func TestSetUsers(t *testing.T) {
	m := New()
	m.SetUsers(5, 2)

	require.Equal(t, 5.0, testutil.ToFloat64(m.Users))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ActiveUsers))
}

func TestObserveStore(t *testing.T) {
	m := New()
	m.ObserveStore("memory", "put", time.Now(), nil)
	m.ObserveStore("memory", "put", time.Now(), errors.New("boom"))
	m.ObserveStore("memory", "get", time.Now(), nil)

	// One series per label pair.
	require.Equal(t, 2, testutil.CollectAndCount(m.StoreOperationDuration))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("memory", "put")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `userdir_store_operation_duration_seconds_count{backend="memory",operation="put"} 2`)
	require.Contains(t, body, `userdir_store_operation_duration_seconds_count{backend="memory",operation="get"} 1`)
}

func TestRecordMonitorRun(t *testing.T) {
	m := New()
	m.RecordMonitorRun(10*time.Millisecond, 3)

	require.Equal(t, 3.0, testutil.ToFloat64(m.UsersExpiredTotal))
	require.Greater(t, testutil.ToFloat64(m.MonitorLastRunTime), 0.0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordCalculation("add", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `userdir_calculations_total{operation="add",result="ok"} 1`))
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	require.NotPanics(t, func() {
		New()
		New()
	})
}
