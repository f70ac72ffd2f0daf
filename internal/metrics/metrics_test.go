package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauges(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(CounterStatusNotes)
		}()
	}
	wg.Wait()

	m.IncrementCounterBy(CounterStatusNotes, 5)
	m.SetGauge("mirror.lag", 3)
	m.SetGauge("mirror.lag", 1)

	assert.Equal(t, int64(55), m.GetCounters()[CounterStatusNotes])
	assert.Equal(t, int64(1), m.GetGauges()["mirror.lag"])
}

func TestTimers(t *testing.T) {
	m := NewMetrics()

	m.RecordTimer(OpLedgerSubmit, 30)
	m.RecordTimer(OpLedgerSubmit, 10)
	m.RecordTimer(OpLedgerSubmit, 20)

	timer := m.GetTimers()[OpLedgerSubmit]
	assert.Equal(t, int64(3), timer.Count)
	assert.Equal(t, int64(60), timer.TotalTimeMs)
	assert.Equal(t, 20.0, timer.AverageTimeMs)
	assert.Equal(t, int64(10), timer.MinTimeMs)
	assert.Equal(t, int64(30), timer.MaxTimeMs)
}

func TestObserveOperation(t *testing.T) {
	m := NewMetrics()

	m.ObserveOperation(OpMirrorAppend, time.Now(), nil)
	m.ObserveOperation(OpMirrorAppend, time.Now(), errors.New("mirror down"))
	m.ObserveOperation(OpMirrorAppend, time.Now(), nil)
	m.ObserveOperation(OpMirrorAppend, time.Now(), nil)

	rate := m.GetErrorRates()[OpMirrorAppend]
	assert.Equal(t, int64(4), rate.Total)
	assert.Equal(t, int64(1), rate.Errors)
	assert.Equal(t, 25.0, rate.ErrorRate)
	assert.Equal(t, int64(4), m.GetTimers()[OpMirrorAppend].Count)
}

func TestHealth(t *testing.T) {
	m := NewMetrics()
	assert.True(t, m.Healthy())

	m.SetHealth("ledger", true)
	m.SetHealth("mirror", false)
	assert.False(t, m.Healthy())
	assert.Equal(t, map[string]bool{"ledger": true, "mirror": false}, m.GetHealthChecks())

	m.SetHealth("mirror", true)
	assert.True(t, m.Healthy())
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	m.IncrementCounter(CounterStatusNotes)
	m.RecordTimer(OpLedgerFetch, 1)
	m.ObserveOperation(OpLedgerFetch, time.Now(), nil)
	m.SetHealth("ledger", true)

	snap := m.Snapshot()
	assert.Empty(t, snap.Counters)
	assert.Empty(t, snap.Timers)
	assert.True(t, m.Healthy())
}

func TestInstrument(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Instrument())
	router.GET("/api/shipments/:trackingId", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/shipments/:trackingId", "GET", "404"))

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/api/shipments/TRACK001", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/api/shipments/:trackingId", "GET", "404"))
	assert.Equal(t, before+1, after)
}
