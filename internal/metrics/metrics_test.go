package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordHTTPRequest("POST", "/step", 201, 5*time.Millisecond)
	m.RecordHTTPRequest("POST", "/step", 201, 5*time.Millisecond)
	m.RecordHTTPRequest("POST", "/undo", 409, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/step", "201")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/undo", "409")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestRecordJournalOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordJournalOperation("step", time.Millisecond, nil)
	m.RecordJournalOperation("step", time.Millisecond, errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JournalOperationsTotal.WithLabelValues("step", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JournalOperationsTotal.WithLabelValues("step", "error")))
}

func TestTimelineStatsAndStoreOperations(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.UpdateTimelineStats(7, 2)
	m.RecordStoreOperation("undo", "invalid_state")

	assert.Equal(t, 7.0, testutil.ToFloat64(m.TimelineVersions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TimelineBugFree))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("undo", "invalid_state")))
}

func TestRegistryIsolation(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	// A second set on a fresh registry must not collide
	require.NotPanics(t, func() { New(prometheus.NewRegistry()) })

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "debugtimeline_server_uptime_seconds")
	assert.Contains(t, names, "debugtimeline_timeline_versions")
}
