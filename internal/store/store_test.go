package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// backends 对每种本地存储跑同一组用例
func backends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func seedSeries(t *testing.T, s Store, id string, episodes int) {
	t.Helper()
	require.NoError(t, s.UpsertSeries(context.Background(), &models.Series{
		SeriesID:     id,
		Title:        "剧集" + id,
		SourceURL:    "http://site/m/" + id + ".html",
		EpisodeCount: episodes,
	}))
}

func TestStore_SeriesLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			_, err := s.GetSeries(ctx, "404")
			assert.ErrorIs(t, err, models.ErrNotFound)

			seedSeries(t, s, "100", 2)
			got, err := s.GetSeries(ctx, "100")
			require.NoError(t, err)
			assert.Equal(t, "剧集100", got.Title)
			assert.Equal(t, 2, got.EpisodeCount)

			// 空标题和空快照不覆盖已有值
			require.NoError(t, s.UpsertSeries(ctx, &models.Series{SeriesID: "100", EpisodeCount: 3, DetailHTML: "<html/>"}))
			require.NoError(t, s.UpsertSeries(ctx, &models.Series{SeriesID: "100", EpisodeCount: 3}))
			got, err = s.GetSeries(ctx, "100")
			require.NoError(t, err)
			assert.Equal(t, "剧集100", got.Title)
			assert.Equal(t, 3, got.EpisodeCount)
			assert.Equal(t, "<html/>", got.DetailHTML)
		})
	}
}

func TestStore_EpisodeSkipSemantics(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedSeries(t, s, "1", 2)

			failed := &models.Episode{SeriesID: "1", EpisodeID: "01", EpisodeNumber: 1, SourceURL: "u1", Note: "no resolution"}
			require.NoError(t, s.SaveEpisode(ctx, failed))

			// 失败记录不算已解析,下次运行会重试
			ok, err := s.IsEpisodeResolved(ctx, "1", "01")
			require.NoError(t, err)
			assert.False(t, ok)

			// 再次失败可以覆盖
			require.NoError(t, s.SaveEpisode(ctx, failed))

			resolved := &models.Episode{SeriesID: "1", EpisodeID: "01", EpisodeNumber: 1, SourceURL: "u1", ResolvedURL: "https://cdn/v.m3u8"}
			require.NoError(t, s.SaveEpisode(ctx, resolved))

			ok, err = s.IsEpisodeResolved(ctx, "1", "01")
			require.NoError(t, err)
			assert.True(t, ok)

			// 已解析的记录不会被覆盖
			err = s.SaveEpisode(ctx, failed)
			assert.ErrorIs(t, err, models.ErrDuplicate)
			var we *models.StoreWriteError
			assert.True(t, errors.As(err, &we))

			complete, err := s.IsSeriesComplete(ctx, "1")
			require.NoError(t, err)
			assert.False(t, complete)

			require.NoError(t, s.SaveEpisode(ctx, &models.Episode{SeriesID: "1", EpisodeID: "02", EpisodeNumber: 2, SourceURL: "u2", ResolvedURL: "https://cdn/2.m3u8"}))
			complete, err = s.IsSeriesComplete(ctx, "1")
			require.NoError(t, err)
			assert.True(t, complete)
		})
	}
}

func TestStore_SourceAttemptsAreRecordedOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedSeries(t, s, "1", 1)

			src := &models.Source{SeriesID: "1", EpisodeID: "01", SourceID: "external_1", CandidateURL: "http://mirror/1"}
			require.NoError(t, s.SaveSource(ctx, src))

			has, err := s.HasSource(ctx, "1", "01", "external_1")
			require.NoError(t, err)
			assert.True(t, has)

			assert.ErrorIs(t, s.SaveSource(ctx, src), models.ErrDuplicate)

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.SourceCount)
			assert.Equal(t, 0, st.ResolvedSources)
		})
	}
}

func TestStore_IncompleteAndStats(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedSeries(t, s, "a", 1)
			seedSeries(t, s, "b", 1)
			seedSeries(t, s, "c", 0)

			require.NoError(t, s.SaveEpisode(ctx, &models.Episode{SeriesID: "a", EpisodeID: "01", EpisodeNumber: 1, SourceURL: "u", ResolvedURL: "https://x/1.mp4"}))

			inc, err := s.ListIncompleteSeries(ctx)
			require.NoError(t, err)
			var ids []string
			for _, sr := range inc {
				ids = append(ids, sr.SeriesID)
			}
			assert.ElementsMatch(t, []string{"b", "c"}, ids)

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, st.SeriesCount)
			assert.Equal(t, 1, st.CompleteSeries)
			assert.Equal(t, 1, st.EpisodeCount)
			assert.Equal(t, 1, st.ResolvedEpisodes)
			require.Len(t, st.Series, 3)
			assert.Equal(t, "a", st.Series[0].SeriesID)

			require.NoError(t, s.Flush(ctx))
		})
	}
}

func TestStore_ConcurrentWritesKeepOneRowPerKey(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seedSeries(t, s, "1", 20)

			var saved, duplicates atomic.Int64
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for n := 1; n <= 20; n++ {
						ep := &models.Episode{
							SeriesID:      "1",
							EpisodeID:     models.EpisodeLabel(n),
							EpisodeNumber: n,
							SourceURL:     fmt.Sprintf("u%d", n),
							ResolvedURL:   fmt.Sprintf("https://cdn/%d.m3u8", n),
						}
						switch err := s.SaveEpisode(ctx, ep); {
						case err == nil:
							saved.Add(1)
						case errors.Is(err, models.ErrDuplicate):
							duplicates.Add(1)
						default:
							t.Errorf("SaveEpisode: %v", err)
						}
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int64(20), saved.Load(), "每个分集只应写入成功一次")
			assert.Equal(t, int64(7*20), duplicates.Load())

			st, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 20, st.EpisodeCount)
			assert.Equal(t, 20, st.ResolvedEpisodes)
			assert.Equal(t, 1, st.CompleteSeries)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"})
	assert.Error(t, err)
}
