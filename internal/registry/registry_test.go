package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCachesForever(t *testing.T) {
	r := New[int]()
	var loads atomic.Int64
	r.Register(ViewHome, func() (int, error) {
		loads.Add(1)
		return 42, nil
	})

	for i := 0; i < 5; i++ {
		v, err := r.Resolve(ViewHome)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, int64(1), loads.Load())
}

func TestConcurrentResolveLoadsOnce(t *testing.T) {
	r := New[string]()
	var loads atomic.Int64
	release := make(chan struct{})
	r.Register(ViewConversation, func() (string, error) {
		loads.Add(1)
		<-release
		return "factory", nil
	})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Resolve(ViewConversation)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load(), "concurrent resolves share one load")
	for _, v := range results {
		assert.Equal(t, "factory", v)
	}
}

func TestFailedLoadIsRetried(t *testing.T) {
	r := New[int]()
	var loads atomic.Int64
	r.Register(ViewAccess, func() (int, error) {
		if loads.Add(1) == 1 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})

	_, err := r.Resolve(ViewAccess)
	require.Error(t, err)

	v, err := r.Resolve(ViewAccess)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int64(2), loads.Load())
}

func TestUnknownName(t *testing.T) {
	r := New[int]()
	_, err := r.Resolve(ViewNotFound)
	assert.Error(t, err)
}
