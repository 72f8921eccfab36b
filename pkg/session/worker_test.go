package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerRunsJobsInOrder(t *testing.T) {
	w := newWorker()
	go w.run()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		w.push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	w.stop()

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "offer-pending", OfferPending.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, Preparing.Active())
	assert.False(t, Restoring.Active())
	assert.True(t, StateDisconnected.Terminal())
	assert.False(t, StateConnecting.Terminal())
}
