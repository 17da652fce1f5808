package blocking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	ctx := context.Background()

	unlockA, err := k.lock(ctx, "a")
	require.NoError(t, err)

	unlockB, err := k.lock(ctx, "b")
	require.NoError(t, err, "other keys are independent")
	unlockB()

	acquired := make(chan struct{})
	go func() {
		unlock, err := k.lock(ctx, "a")
		if err == nil {
			close(acquired)
			unlock()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the key")
	}

	assert.Eventually(t, func() bool { return k.len() == 0 }, time.Second, time.Millisecond)
}

func TestKeyedMutex_WaitHonoursContext(t *testing.T) {
	k := newKeyedMutex()

	unlock, err := k.lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.len(), "the abandoned wait leaves no entry behind")
}
