package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)

	require.NotPanics(t, func() {
		ObserveBatch(true, 2*time.Minute, 3)
		ObserveBatch(false, 5*time.Second, 0)
		ObservePacerDelay(500 * time.Millisecond)
		WorkerStarted()
		WorkerStopped()
	})
}

func TestObserversAreSafeBeforeInit(t *testing.T) {
	// Collectors are package globals guarded by nil checks; calling the
	// observers before Init must not panic in other tests' processes.
	require.NotPanics(t, func() {
		ObserveBatch(false, time.Second, 0)
		ObservePacerDelay(time.Second)
	})
}
