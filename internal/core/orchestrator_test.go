package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// listingSite 以 "分类-页码" 为键的列表页
type listingSite struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (s *listingSite) Fetch(_ context.Context, url string) (*crawlers.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, url)
	html, ok := s.pages[url]
	if !ok {
		return nil, &models.FetchError{Category: models.CategoryUnknown, URL: url, StatusCode: 404}
	}
	return &crawlers.Page{URL: url, StatusCode: 200, Body: []byte(html)}, nil
}

func listing(next bool, ids ...string) string {
	var b strings.Builder
	b.WriteString(`<ul class="list">`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<li><a href="/v/%s/">剧集%s</a></li>`, id, id)
	}
	b.WriteString(`</ul>`)
	if next {
		b.WriteString(`<div class="pages"><a href="#more">下一页</a><a class="next" href="/list/next.html">»</a></div>`)
	}
	return b.String()
}

func newOrchestrator(t *testing.T, site *listingSite, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	ad, err := adapter.NewYatuAdapter("http://site", adapter.Selectors{})
	require.NoError(t, err)
	return NewOrchestrator(cfg, site, ad)
}

func ids(items []models.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.SeriesID)
	}
	return out
}

func TestOrchestrator_StopConditions(t *testing.T) {
	tests := []struct {
		name    string
		pages   map[string]string
		cfg     OrchestratorConfig
		want    []string
		fetched int
	}{
		{
			name: "空页停止",
			pages: map[string]string{
				"http://site/tv-1": listing(true, "1", "2"),
				"http://site/tv-2": listing(true),
			},
			want:    []string{"1", "2"},
			fetched: 2,
		},
		{
			name: "最后一页停止",
			pages: map[string]string{
				"http://site/tv-1": listing(true, "1"),
				"http://site/tv-2": listing(false, "2"),
				"http://site/tv-3": listing(true, "3"),
			},
			want:    []string{"1", "2"},
			fetched: 2,
		},
		{
			name: "达到最大页数",
			pages: map[string]string{
				"http://site/tv-1": listing(true, "1"),
				"http://site/tv-2": listing(true, "2"),
				"http://site/tv-3": listing(true, "3"),
			},
			cfg:     OrchestratorConfig{MaxPages: 2},
			want:    []string{"1", "2"},
			fetched: 2,
		},
		{
			name: "抓取失败停止",
			pages: map[string]string{
				"http://site/tv-1": listing(true, "1"),
			},
			want:    []string{"1"},
			fetched: 2,
		},
		{
			name: "并发窗口保持页码顺序",
			pages: map[string]string{
				"http://site/tv-1": listing(true, "1"),
				"http://site/tv-2": listing(true, "2"),
				"http://site/tv-3": listing(false, "3"),
				"http://site/tv-4": listing(true, "4"),
			},
			cfg:     OrchestratorConfig{ListingWorkers: 2},
			want:    []string{"1", "2", "3"},
			fetched: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := &listingSite{pages: tt.pages}
			items := newOrchestrator(t, site, tt.cfg).Discover(context.Background(), []string{"http://site/tv-{page}"})
			assert.Equal(t, tt.want, ids(items))
			assert.Len(t, site.fetched, tt.fetched)
		})
	}
}

func TestOrchestrator_DedupAcrossCategories(t *testing.T) {
	site := &listingSite{pages: map[string]string{
		"http://site/tv-1":    listing(false, "1", "2"),
		"http://site/movie-1": listing(false, "2", "3"),
	}}
	items := newOrchestrator(t, site, OrchestratorConfig{}).Discover(context.Background(),
		[]string{"http://site/tv-{page}", "http://site/movie-{page}"})

	assert.Equal(t, []string{"1", "2", "3"}, ids(items))
	assert.Equal(t, "http://site/tv-{page}", items[1].Category, "重复条目保留首次出现的分类")
	assert.Equal(t, "http://site/movie-{page}", items[2].Category)
	assert.Equal(t, "http://site/v/3/", items[2].URL)
}
