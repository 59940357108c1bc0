package crawlers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

func TestGuardedFetcher_RecordsCategories(t *testing.T) {
	backoff := NewBackoffController(BackoffConfig{Threshold: 10, Cooldown: time.Second}).WithPauser(&recordingPauser{})
	inner := FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		if url == "http://site/busy" {
			return &Page{URL: url, StatusCode: 503}, nil
		}
		return &Page{URL: url, StatusCode: 200, Body: []byte(`<iframe id="playiframe" src="https://p.example/1"></iframe>`)}, nil
	})
	g := NewGuardedFetcher(inner, NewClassifier(2), backoff)

	_, err := g.Fetch(context.Background(), "http://site/busy")
	require.Error(t, err)
	assert.Equal(t, models.CategoryServer, models.CategoryOf(err))
	assert.Equal(t, int64(1), backoff.Consecutive())

	_, err = g.Fetch(context.Background(), "http://site/ok")
	require.NoError(t, err)
	assert.Zero(t, backoff.Consecutive())
	assert.Equal(t, int64(1), backoff.Totals()[models.CategoryServer])
}

func TestGuardedFetcher_CancelledIsNotAFailure(t *testing.T) {
	backoff := NewBackoffController(BackoffConfig{Threshold: 10, Cooldown: time.Second}).WithPauser(&recordingPauser{})
	inner := FetcherFunc(func(ctx context.Context, url string) (*Page, error) {
		return nil, fmt.Errorf("限速等待: %w", context.Canceled)
	})
	g := NewGuardedFetcher(inner, NewClassifier(2), backoff)

	_, err := g.Fetch(context.Background(), "http://site/p")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, backoff.Consecutive())
	for _, c := range models.AllCategories {
		assert.Zero(t, backoff.Totals()[c], "类别 %s 不应计数", c)
	}
}
