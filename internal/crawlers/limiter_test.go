package crawlers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

func TestLimitedFetcher_CapsInFlight(t *testing.T) {
	var current, peak atomic.Int64
	inner := FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return &Page{StatusCode: 200}, nil
	})

	lf := NewLimitedFetcher(inner, 2, 0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := lf.Fetch(context.Background(), "http://host/x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestLimitedFetcher_CancelledWhileWaiting(t *testing.T) {
	block := make(chan struct{})
	inner := FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		<-block
		return &Page{}, nil
	})
	lf := NewLimitedFetcher(inner, 1, 0, 0)

	go lf.Fetch(context.Background(), "http://host/1")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := lf.Fetch(ctx, "http://host/2")
	require.Error(t, err)
	close(block)
}

func TestLimitedFetcher_PerHostLimiter(t *testing.T) {
	lf := NewLimitedFetcher(FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		return &Page{}, nil
	}), 0, 5, 1)

	a := lf.limiterFor("http://a.com/x")
	assert.Same(t, a, lf.limiterFor("http://a.com/y"))
	assert.NotSame(t, a, lf.limiterFor("http://b.com/x"))
}

func TestLimitedFetcher_RateWaitBeyondDeadlineIsNetwork(t *testing.T) {
	lf := NewLimitedFetcher(FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		return &Page{StatusCode: 200}, nil
	}), 0, 0.001, 1)

	_, err := lf.Fetch(context.Background(), "http://host/1")
	require.NoError(t, err)

	// 下一个令牌要等很久, 超过截止时间时立即返回
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = lf.Fetch(ctx, "http://host/2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, models.CategoryNetwork, NewClassifier(2).ClassifyTransport(err))
}

func TestLimitedFetcher_CancelledKeepsContextError(t *testing.T) {
	lf := NewLimitedFetcher(FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		return &Page{StatusCode: 200}, nil
	}), 1, 0.001, 1)
	_, err := lf.Fetch(context.Background(), "http://host/1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lf.Fetch(ctx, "http://host/2")
	assert.True(t, errors.Is(err, context.Canceled))
}
