package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordGeneration(t *testing.T) {
	before := testutil.ToFloat64(generationRequests.WithLabelValues("mock", OutcomeSuccess))
	RecordGeneration("mock", OutcomeSuccess)
	after := testutil.ToFloat64(generationRequests.WithLabelValues("mock", OutcomeSuccess))
	assert.Equal(t, before+1, after)
}

func TestObserveProviderCall(t *testing.T) {
	ObserveProviderCall("openai", nil, 2*time.Second)
	ObserveProviderCall("openai", errors.New("boom"), time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(providerCallDuration))
}

func TestContainerGauge(t *testing.T) {
	before := testutil.ToFloat64(containersRunning)
	ContainerUp()
	ContainerUp()
	ContainerDown()
	assert.Equal(t, before+1, testutil.ToFloat64(containersRunning))
}
