package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/resolver"
	"github.com/RecoveryAshes/yatucrawl/internal/store"
)

// fakeSite 内存中的站点, 记录每个URL的抓取次数
type fakeSite struct {
	mu     sync.Mutex
	pages  map[string]string
	visits map[string]int
}

func newFakeSite() *fakeSite {
	return &fakeSite{pages: make(map[string]string), visits: make(map[string]int)}
}

func (f *fakeSite) set(url, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = html
}

func (f *fakeSite) Fetch(_ context.Context, url string) (*crawlers.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits[url]++
	html, ok := f.pages[url]
	if !ok {
		return nil, &models.FetchError{Category: models.CategoryNetwork, URL: url, Err: fmt.Errorf("connection refused")}
	}
	return &crawlers.Page{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(html)}, nil
}

func (f *fakeSite) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visits[url]
}

func (f *fakeSite) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.visits {
		n += v
	}
	return n
}

func detailURL(id string) string { return "http://site/v/" + id + "/" }

func playURL(id string, ep int) string {
	return fmt.Sprintf("http://site/v/%s/play0-%d.html", id, ep)
}

func playerPage(id string, ep int) string {
	return fmt.Sprintf(`<iframe id="playiframe" src="https://player.example/e/%s-%d"></iframe>`, id, ep)
}

// addSeries 详情页只露出第1集和最后一集
func (f *fakeSite) addSeries(id string, episodes int) {
	f.set(detailURL(id), fmt.Sprintf(`<h1>剧集%s</h1><li>导演: 某人</li>
<div class="playlist"><a href="/v/%s/play0-1.html">第1集</a><a href="/v/%s/play0-%d.html">第%d集</a></div>`,
		id, id, id, episodes, episodes))
	for ep := 1; ep <= episodes; ep++ {
		f.set(playURL(id, ep), playerPage(id, ep))
	}
}

type harness struct {
	site    *fakeSite
	store   *store.MemoryStore
	stats   *models.RunStats
	adapter *adapter.YatuAdapter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ad, err := adapter.NewYatuAdapter("http://site", adapter.Selectors{})
	require.NoError(t, err)
	return &harness{site: newFakeSite(), store: store.NewMemoryStore(), stats: &models.RunStats{}, adapter: ad}
}

func (h *harness) scheduler(mode models.RunMode, workers int) *SeriesScheduler {
	chain := resolver.NewChain(h.site, resolver.DefaultChainConfig())
	eps := NewEpisodeScheduler(h.store, chain, h.adapter, h.stats, workers)
	return NewSeriesScheduler(SeriesConfig{Workers: workers, Mode: mode}, h.store, h.site, h.adapter, eps, h.stats)
}

func item(id string) models.Item {
	return models.Item{SeriesID: id, Title: "剧集" + id, URL: detailURL(id), Category: "tv"}
}

func TestSeriesScheduler_CompletesSeries(t *testing.T) {
	h := newHarness(t)
	h.site.addSeries("100", 4)

	results := h.scheduler(models.ModeCrawl, 2).Run(context.Background(), []models.Item{item("100")})

	require.Len(t, results, 1)
	assert.Equal(t, models.SeriesStatusCompleted, results[0].Status)
	assert.Equal(t, 4, results[0].Resolved)

	sr, err := h.store.GetSeries(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, 4, sr.EpisodeCount)
	assert.Equal(t, "某人", sr.Director)
	assert.Equal(t, "tv", sr.Category)
	assert.NotEmpty(t, sr.DetailHTML)

	ep, ok := h.store.Episode("100", "03")
	require.True(t, ok)
	assert.Equal(t, "https://player.example/e/100-3", ep.ResolvedURL)
	assert.Equal(t, "iframe-by-id", ep.Note)
	assert.Equal(t, playURL("100", 3), ep.SourceURL)

	has, err := h.store.HasSource(context.Background(), "100", "03", models.SourceIDDirect)
	require.NoError(t, err)
	assert.True(t, has)

	snap := h.stats.Snapshot()
	assert.Equal(t, int64(1), snap.SeriesCompleted)
	assert.Equal(t, int64(4), snap.EpisodesResolved)
}

func TestSeriesScheduler_IdempotentRerun(t *testing.T) {
	h := newHarness(t)
	h.site.addSeries("100", 3)
	h.site.addSeries("200", 2)
	items := []models.Item{item("100"), item("200")}

	h.scheduler(models.ModeCrawl, 4).Run(context.Background(), items)
	first := h.site.total()
	require.Equal(t, 2+3+2, first)

	results := h.scheduler(models.ModeCrawl, 4).Run(context.Background(), items)
	for _, r := range results {
		assert.Equal(t, models.SeriesStatusSkipped, r.Status)
	}
	assert.Equal(t, first, h.site.total(), "已完成的剧集不应再次抓取")
}

func TestSeriesScheduler_ResumeRetriesOnlyUnresolved(t *testing.T) {
	h := newHarness(t)
	h.site.addSeries("100", 3)
	h.site.set(playURL("100", 2), `<p>维护中</p>`)

	results := h.scheduler(models.ModeCrawl, 2).Run(context.Background(), []models.Item{item("100")})
	require.Equal(t, models.SeriesStatusPartial, results[0].Status)
	assert.ErrorIs(t, results[0].Err, models.ErrPartialCompletion)

	ep, ok := h.store.Episode("100", "02")
	require.True(t, ok)
	assert.False(t, ep.Resolved())
	assert.Equal(t, resolver.NoteNoResolution, ep.Note)

	// 播放页恢复, resume只重试第2集且复用详情页
	h.site.set(playURL("100", 2), playerPage("100", 2))
	incomplete, err := h.store.ListIncompleteSeries(context.Background())
	require.NoError(t, err)
	require.Len(t, incomplete, 1)

	resumeItem := models.Item{SeriesID: "100", Title: incomplete[0].Title, URL: incomplete[0].SourceURL, Category: incomplete[0].Category}
	results = h.scheduler(models.ModeResume, 2).Run(context.Background(), []models.Item{resumeItem})
	assert.Equal(t, models.SeriesStatusCompleted, results[0].Status)
	assert.Equal(t, 1, results[0].Resolved)
	assert.Equal(t, 2, results[0].Skipped)

	assert.Equal(t, 1, h.site.count(detailURL("100")), "resume应复用已保存的详情页")
	assert.Equal(t, 1, h.site.count(playURL("100", 1)))
	assert.Equal(t, 2, h.site.count(playURL("100", 2)))

	complete, err := h.store.IsSeriesComplete(context.Background(), "100")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestEpisodeScheduler_AlternateSources(t *testing.T) {
	h := newHarness(t)
	h.site.addSeries("100", 1)
	h.site.set(playURL("100", 1), `<div class="sources">
<a href="http://mirror1.example/p/1.html">线路一</a>
<a href="http://mirror2.example/p/1.html">线路二</a>
<a href="http://mirror3.example/p/1.html">线路三</a>
</div>`)
	h.site.set("http://mirror1.example/p/1.html", `<p>空</p>`)
	h.site.set("http://mirror2.example/p/1.html", `<iframe src="https://player.example/m2/1"></iframe>`)

	results := h.scheduler(models.ModeCrawl, 1).Run(context.Background(), []models.Item{item("100")})
	require.Equal(t, models.SeriesStatusCompleted, results[0].Status)

	ep, ok := h.store.Episode("100", "01")
	require.True(t, ok)
	assert.Equal(t, "https://player.example/m2/1", ep.ResolvedURL)
	assert.Equal(t, "external_2: first-iframe", ep.Note)

	for id, want := range map[string]bool{"external_1": true, "external_2": true, "external_3": false} {
		has, err := h.store.HasSource(context.Background(), "100", "01", id)
		require.NoError(t, err)
		assert.Equal(t, want, has, id)
	}
	assert.Zero(t, h.site.count("http://mirror3.example/p/1.html"), "成功后不再尝试后续来源")
	assert.Equal(t, int64(2), h.stats.Snapshot().SourcesAttempted)
}

func TestEpisodeScheduler_SkipsTriedSources(t *testing.T) {
	h := newHarness(t)
	h.site.addSeries("100", 1)
	h.site.set(playURL("100", 1), `<div class="sources"><a href="http://mirror1.example/p/1.html">线路一</a></div>`)

	h.scheduler(models.ModeCrawl, 1).Run(context.Background(), []models.Item{item("100")})
	h.scheduler(models.ModeResume, 1).Run(context.Background(), []models.Item{item("100")})

	assert.Equal(t, 2, h.site.count(playURL("100", 1)))
	assert.Equal(t, 1, h.site.count("http://mirror1.example/p/1.html"), "已尝试的来源不重复尝试")
}

func TestSeriesScheduler_NoPattern(t *testing.T) {
	h := newHarness(t)
	h.site.set(detailURL("300"), `<h1>电影</h1><a href="/about.html">关于</a>`)

	results := h.scheduler(models.ModeCrawl, 1).Run(context.Background(), []models.Item{item("300")})
	assert.Equal(t, models.SeriesStatusNoPattern, results[0].Status)
	assert.ErrorIs(t, results[0].Err, models.ErrNoPattern)

	sr, err := h.store.GetSeries(context.Background(), "300")
	require.NoError(t, err)
	assert.Zero(t, sr.EpisodeCount)
	assert.Equal(t, int64(1), h.stats.Snapshot().SeriesNoPattern)
}

func TestSeriesScheduler_DetailFetchFailure(t *testing.T) {
	h := newHarness(t)

	results := h.scheduler(models.ModeCrawl, 1).Run(context.Background(), []models.Item{item("404")})
	assert.Equal(t, models.SeriesStatusFailed, results[0].Status)
	assert.Equal(t, models.CategoryNetwork, models.CategoryOf(results[0].Err))

	_, err := h.store.GetSeries(context.Background(), "404")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSeriesScheduler_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	h.site.addSeries("100", 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := h.scheduler(models.ModeCrawl, 2).Run(ctx, []models.Item{item("100")})
	assert.Equal(t, models.SeriesStatusCancelled, results[0].Status)
	assert.Zero(t, h.site.total())
}

func TestSeriesScheduler_ConcurrentSeries(t *testing.T) {
	h := newHarness(t)
	var items []models.Item
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("%d", 1000+i)
		h.site.addSeries(id, 5)
		items = append(items, item(id))
	}

	results := h.scheduler(models.ModeCrawl, 4).Run(context.Background(), items)

	for i, r := range results {
		assert.Equal(t, items[i].SeriesID, r.SeriesID)
		assert.Equal(t, models.SeriesStatusCompleted, r.Status)
	}
	for _, it := range items {
		for ep := 1; ep <= 5; ep++ {
			assert.Equal(t, 1, h.site.count(playURL(it.SeriesID, ep)), "每个分集只提交一次")
		}
	}
	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, st.SeriesCount)
	assert.Equal(t, 20, st.CompleteSeries)
	assert.Equal(t, 100, st.ResolvedEpisodes)
	assert.Equal(t, int64(100), h.stats.Snapshot().EpisodesResolved)
}
