package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGet_Singleton(t *testing.T) {
	a := Get()
	b := Get()
	assert.Same(t, a, b)
}

func TestRecordAuthAttempt(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.AuthAttempts.WithLabelValues("failure"))
	r.RecordAuthAttempt(false)
	after := testutil.ToFloat64(r.AuthAttempts.WithLabelValues("failure"))

	assert.Equal(t, before+1, after)
}

func TestRecordOperation(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.Operations.WithLabelValues("start", "mario", "success"))
	r.RecordOperation("start", "mario", true, 0.25)
	after := testutil.ToFloat64(r.Operations.WithLabelValues("start", "mario", "success"))

	assert.Equal(t, before+1, after)
}

func TestRecordRateLimited(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.RateLimitRejections.WithLabelValues("auth"))
	r.RecordRateLimited("auth")
	after := testutil.ToFloat64(r.RateLimitRejections.WithLabelValues("auth"))

	assert.Equal(t, before+1, after)
}

func TestRecordAPIRequest(t *testing.T) {
	r := Get()

	before := testutil.ToFloat64(r.APIRequests.WithLabelValues("GET", "/api/modules", "200"))
	r.RecordAPIRequest("GET", "/api/modules", 200, 0.01)
	after := testutil.ToFloat64(r.APIRequests.WithLabelValues("GET", "/api/modules", "200"))

	assert.Equal(t, before+1, after)
}
