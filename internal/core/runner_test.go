package core

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// fakeYatu 模拟站点: 第1页2个剧集, 第2页为空
type fakeYatu struct {
	mu       sync.Mutex
	hits     map[string]int
	failPlay map[string]bool
}

func (f *fakeYatu) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	fail := f.failPlay[r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var id string
	var ep int
	switch {
	case r.URL.Path == "/list/tv-1.html":
		fmt.Fprint(w, `<html><body><ul class="list">
<li><a href="/v/101/" title="山海情">山海情</a></li>
<li><a href="/v/102/" title="觉醒年代">觉醒年代</a></li>
</ul><div class="pages"><a href="/list/tv-2.html">下一页</a></div></body></html>`)
	case r.URL.Path == "/list/tv-2.html":
		fmt.Fprint(w, `<html><body><ul class="list"></ul></body></html>`)
	case fail:
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "service unavailable")
	default:
		if n, _ := fmt.Sscanf(r.URL.Path, "/v/%3s/play0-%d.html", &id, &ep); n == 2 {
			fmt.Fprintf(w, `<html><body><iframe id="playiframe" src="https://player.example/e/%s-%d"></iframe></body></html>`, id, ep)
			return
		}
		if n, _ := fmt.Sscanf(r.URL.Path, "/v/%3s/", &id); n == 1 {
			fmt.Fprintf(w, `<html><body><h1>剧集%s</h1><li>年份: 2021</li>
<div class="playlist"><a href="/v/%s/play0-1.html">第1集</a><a href="/v/%s/play0-2.html">第2集</a></div></body></html>`, id, id, id)
			return
		}
		http.NotFound(w, r)
	}
}

func (f *fakeYatu) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeYatu) setFail(path string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPlay[path] = fail
}

func newTestRunContext(t *testing.T, baseURL string, mode models.RunMode) *RunContext {
	t.Helper()
	cfg, err := LoadConfig(writeConfig(t, "site:\n  base_url: "+baseURL+"\n"))
	require.NoError(t, err)
	cfg.Store.Driver = "memory"
	cfg.Crawl.BatchSize = 1
	cfg.Crawl.BatchDelaySec = 0
	cfg.Crawl.SeriesWorkers = 2
	cfg.Crawl.EpisodeWorkers = 2
	cfg.Output.ReportDir = t.TempDir()

	hm, err := NewHeaderManager(filepath.Join(t.TempDir(), "headers.yaml"), cfg.Fetch.UserAgent, nil)
	require.NoError(t, err)
	rc, err := NewRunContext(context.Background(), cfg, mode, hm)
	require.NoError(t, err)
	rc.Out = &bytes.Buffer{}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestCrawl_EndToEnd(t *testing.T) {
	site := &fakeYatu{hits: make(map[string]int), failPlay: make(map[string]bool)}
	srv := httptest.NewServer(site)
	defer srv.Close()

	rc := newTestRunContext(t, srv.URL, models.ModeCrawl)
	report, err := rc.Crawl(context.Background(), []string{srv.URL + "/list/tv-{page}.html"})
	require.NoError(t, err)

	st, err := rc.Store.Stats(context.Background())
	require.NoError(t, err)
	out := utils.FormatStats(st, false)
	assert.Contains(t, out, "series_count=2\n")
	assert.Contains(t, out, "complete_series=2\n")
	assert.Contains(t, out, "resolved_episodes=4\n")

	assert.Equal(t, int64(2), report.Stats.SeriesDiscovered)
	assert.Equal(t, int64(2), report.Stats.SeriesCompleted)
	assert.Empty(t, report.IncompleteSeries)
	assert.False(t, report.Interrupted)

	_, err = os.Stat(filepath.Join(rc.Config.Output.ReportDir, "run_"+report.RunID+".json"))
	assert.NoError(t, err)
	assert.Contains(t, rc.Out.(*bytes.Buffer).String(), "运行摘要")

	sr, err := rc.Store.GetSeries(context.Background(), "101")
	require.NoError(t, err)
	assert.Equal(t, "2021", sr.Year)
	assert.Equal(t, srv.URL+"/list/tv-{page}.html", sr.Category)
}

func TestCrawl_PartialThenResume(t *testing.T) {
	site := &fakeYatu{hits: make(map[string]int), failPlay: map[string]bool{"/v/102/play0-2.html": true}}
	srv := httptest.NewServer(site)
	defer srv.Close()

	rc := newTestRunContext(t, srv.URL, models.ModeCrawl)
	report, err := rc.Crawl(context.Background(), []string{srv.URL + "/list/tv-{page}.html"})
	require.ErrorIs(t, err, models.ErrPartialCompletion)
	assert.Equal(t, []string{"102"}, report.IncompleteSeries)
	assert.Equal(t, int64(1), report.Failures[models.CategoryServer])
	assert.Equal(t, utils.Recommendation(models.CategoryServer), report.Recommendation)

	// 同一存储上恢复运行
	site.setFail("/v/102/play0-2.html", false)
	rc.Mode = models.ModeResume
	rc.Stats = &models.RunStats{}
	report, err = rc.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Stats.SeriesDiscovered)
	assert.Equal(t, int64(1), report.Stats.EpisodesResolved)
	assert.Equal(t, int64(1), report.Stats.EpisodesSkipped)

	assert.Equal(t, 1, site.count("/v/102/"), "resume复用已保存的详情页")
	assert.Equal(t, 1, site.count("/v/101/play0-1.html"), "已完成剧集不再抓取")
	assert.Equal(t, 2, site.count("/v/102/play0-2.html"))

	complete, err := rc.Store.IsSeriesComplete(context.Background(), "102")
	require.NoError(t, err)
	assert.True(t, complete)
}

func TestCrawl_RequiresCategories(t *testing.T) {
	rc := newTestRunContext(t, "http://127.0.0.1:1", models.ModeCrawl)
	_, err := rc.Crawl(context.Background(), nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrPartialCompletion)
}
