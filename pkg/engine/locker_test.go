package engine_test

import (
	"sync"
	"testing"

	"github.com/approvia/approvia/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locker := engine.NewKeyedMutex()

	const goroutines = 50

	counter := 0

	var wg sync.WaitGroup

	for range goroutines {
		wg.Add(1)

		go func() {
			defer wg.Done()

			release, err := locker.Acquire(t.Context(), "instance-1")
			require.NoError(t, err)
			defer release()

			counter++
		}()
	}

	wg.Wait()

	assert.Equal(t, goroutines, counter)
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	locker := engine.NewKeyedMutex()

	releaseA, err := locker.Acquire(t.Context(), "instance-a")
	require.NoError(t, err)
	defer releaseA()

	// A different instance must be acquirable while instance-a is held.
	releaseB, err := locker.Acquire(t.Context(), "instance-b")
	require.NoError(t, err)
	releaseB()
}

func TestKeyedMutexReacquireAfterRelease(t *testing.T) {
	locker := engine.NewKeyedMutex()

	release, err := locker.Acquire(t.Context(), "instance-1")
	require.NoError(t, err)
	release()

	release, err = locker.Acquire(t.Context(), "instance-1")
	require.NoError(t, err)
	release()
}
