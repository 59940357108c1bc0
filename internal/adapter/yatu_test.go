package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

const listingPage = `<html><body>
<ul class="list">
  <li><a href="/v/1001/" title="山海情">山海情</a></li>
  <li><a href="/v/1002.html">  觉醒年代 </a></li>
  <li><a href="/v/1001/">山海情(重复)</a></li>
  <li><a href="/about.html">关于</a></li>
</ul>
<div class="pages"><a href="/list/tv-1.html">上一页</a><a href="/list/tv-3.html">下一页</a></div>
</body></html>`

func newAdapter(t *testing.T) *YatuAdapter {
	t.Helper()
	a, err := NewYatuAdapter("http://www.yatu.tv", Selectors{})
	require.NoError(t, err)
	return a
}

func TestExtractCandidates(t *testing.T) {
	a := newAdapter(t)
	items := a.ExtractCandidates(listingPage)

	require.Len(t, items, 2)
	assert.Equal(t, models.Item{SeriesID: "1001", Title: "山海情", URL: "http://www.yatu.tv/v/1001/"}, items[0])
	assert.Equal(t, "1002", items[1].SeriesID)
	assert.Equal(t, "觉醒年代", items[1].Title)
	assert.Equal(t, "http://www.yatu.tv/v/1002.html", items[1].URL)
}

func TestExtractCandidatesEmpty(t *testing.T) {
	a := newAdapter(t)
	assert.Empty(t, a.ExtractCandidates(`<html><body><p>没有内容</p></body></html>`))
}

func TestIsLastPage(t *testing.T) {
	a := newAdapter(t)
	tests := []struct {
		name string
		html string
		want bool
	}{
		{name: "存在下一页", html: listingPage, want: false},
		{name: "没有分页", html: `<html><body></body></html>`, want: true},
		{name: "下一页不可点击", html: `<div class="pages"><a href="javascript:;">下一页</a></div>`, want: true},
		{name: "禁用的next", html: `<a class="next disabled" href="/list/tv-9.html">next</a>`, want: true},
		{name: "next类链接", html: `<a class="next" href="/list/tv-2.html">»</a>`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.IsLastPage(tt.html))
		})
	}
}

func TestExtractEpisodeSamples(t *testing.T) {
	a := newAdapter(t)
	html := `<div class="playlist">
<a href="/v/1001/play0-1.html">第1集</a>
<a href="play0-2.html">第2集</a>
<a href="/v/1001/">详情</a>
</div>`
	links := a.ExtractEpisodeSamples(html)

	require.Len(t, links, 2)
	assert.Equal(t, models.EpisodeLink{Label: "第1集", RawURL: "http://www.yatu.tv/v/1001/play0-1.html"}, links[0])
	assert.Equal(t, "http://www.yatu.tv/play0-2.html", links[1].RawURL)
}

func TestExtractMetadata(t *testing.T) {
	a := newAdapter(t)
	html := `<html><head><meta name="description" content="备用简介"></head><body>
<h1> 山海情 </h1>
<ul class="info">
  <li><span>导演:</span>孔笙</li>
  <li>年份：2021</li>
  <li>语言: 国语</li>
</ul>
</body></html>`
	meta := a.ExtractMetadata(html)

	assert.Equal(t, "山海情", meta.Title)
	assert.Equal(t, "孔笙", meta.Director)
	assert.Equal(t, "2021", meta.Year)
	assert.Equal(t, "国语", meta.Language)
	assert.Equal(t, "备用简介", meta.Description)
}

func TestExtractSources(t *testing.T) {
	a := newAdapter(t)
	html := `<div class="sources">
<a href="http://mirror1.example/p/1.html">线路一</a>
<a href="/mirror/2.html">线路二</a>
<a href="http://mirror1.example/p/1.html">重复</a>
</div>
<span data-src="http://mirror3.example/e/3">线路三</span>`
	sources := a.ExtractSources(html)

	require.Len(t, sources, 3)
	assert.Equal(t, models.SourceLink{Name: "线路一", URL: "http://mirror1.example/p/1.html"}, sources[0])
	assert.Equal(t, "http://www.yatu.tv/mirror/2.html", sources[1].URL)
	assert.Equal(t, "http://mirror3.example/e/3", sources[2].URL)
}

func TestOptionalInterfaces(t *testing.T) {
	var a ContentAdapter = newAdapter(t)
	_, ok := a.(MetadataExtractor)
	assert.True(t, ok)
	_, ok = a.(SourceExtractor)
	assert.True(t, ok)
}

func TestNewYatuAdapterBadPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
	}{
		{"正则语法错误", "("},
		{"缺少分组", `/v/\w+/`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad, err := NewYatuAdapter("http://www.yatu.tv", Selectors{SeriesID: tt.pattern})
			assert.Error(t, err)
			assert.Nil(t, ad)
		})
	}
}
