package adapter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// Selectors 站点选择器, 均可在配置中覆盖
type Selectors struct {
	Item           string `mapstructure:"item"`            // 列表页剧集链接
	SeriesID       string `mapstructure:"series_id"`       // 从链接中提取剧集ID的正则, 第1个分组
	NextPage       string `mapstructure:"next_page"`       // 下一页链接
	Episode        string `mapstructure:"episode"`         // 详情页分集链接
	Title          string `mapstructure:"title"`           // 详情页标题
	Description    string `mapstructure:"description"`     // 详情页简介
	MetadataFields string `mapstructure:"metadata_fields"` // 含 "导演:" 等标签的元素
	Source         string `mapstructure:"source"`          // 播放页备用来源链接
}

// DefaultSelectors 默认规则
func DefaultSelectors() Selectors {
	return Selectors{
		Item:           "ul.list li a[href], .vodlist a[href], .mlist a[href]",
		SeriesID:       `/(?:m|v|detail)/(\w+?)(?:/|\.html?)?$`,
		NextPage:       "a.next, a.pagenext, .pages a",
		Episode:        "a[href*='play']",
		Title:          "h1",
		Description:    ".intro, .desc, .vod-content",
		MetadataFields: "li, p, span, dd",
		Source:         ".sources a[href], .source-list a[href], [data-src]",
	}
}

// YatuAdapter 默认的站点适配器
type YatuAdapter struct {
	base      *url.URL
	sel       Selectors
	seriesIDs *regexp.Regexp
}

// NewYatuAdapter 创建适配器, baseURL 用于将相对链接转为绝对地址
func NewYatuAdapter(baseURL string, sel Selectors) (*YatuAdapter, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	def := DefaultSelectors()
	if sel.Item == "" {
		sel.Item = def.Item
	}
	if sel.SeriesID == "" {
		sel.SeriesID = def.SeriesID
	}
	if sel.NextPage == "" {
		sel.NextPage = def.NextPage
	}
	if sel.Episode == "" {
		sel.Episode = def.Episode
	}
	if sel.Title == "" {
		sel.Title = def.Title
	}
	if sel.Description == "" {
		sel.Description = def.Description
	}
	if sel.MetadataFields == "" {
		sel.MetadataFields = def.MetadataFields
	}
	if sel.Source == "" {
		sel.Source = def.Source
	}
	re, err := regexp.Compile(sel.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("剧集ID正则无效: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("剧集ID正则需要一个分组: %s", sel.SeriesID)
	}
	return &YatuAdapter{base: base, sel: sel, seriesIDs: re}, nil
}

func (a *YatuAdapter) parse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		utils.Debugf("HTML解析失败: %v", err)
		return nil
	}
	return doc
}

func (a *YatuAdapter) absolute(href string) string {
	u, err := a.base.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return u.String()
}

// ExtractCandidates 列表页剧集条目, 页内按ID去重
func (a *YatuAdapter) ExtractCandidates(html string) []models.Item {
	doc := a.parse(html)
	if doc == nil {
		return nil
	}

	var items []models.Item
	seen := make(map[string]bool)
	doc.Find(a.sel.Item).Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := a.absolute(href)
		m := a.seriesIDs.FindStringSubmatch(strings.SplitN(abs, "?", 2)[0])
		if m == nil || models.ValidateSeriesID(m[1]) != nil || seen[m[1]] {
			return
		}
		seen[m[1]] = true

		title, ok := s.Attr("title")
		if !ok || strings.TrimSpace(title) == "" {
			title = s.Text()
		}
		items = append(items, models.Item{
			SeriesID: m[1],
			Title:    strings.TrimSpace(title),
			URL:      abs,
		})
	})
	return items
}

// ExtractEpisodeSamples 详情页上的分集链接
func (a *YatuAdapter) ExtractEpisodeSamples(html string) []models.EpisodeLink {
	doc := a.parse(html)
	if doc == nil {
		return nil
	}

	var links []models.EpisodeLink
	doc.Find(a.sel.Episode).Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs := a.absolute(href); abs != "" {
			links = append(links, models.EpisodeLink{Label: strings.TrimSpace(s.Text()), RawURL: abs})
		}
	})
	return links
}

// IsLastPage 没有可用的"下一页"链接即为最后一页
func (a *YatuAdapter) IsLastPage(html string) bool {
	doc := a.parse(html)
	if doc == nil {
		return true
	}

	hasNext := false
	doc.Find(a.sel.NextPage).EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if s.Is("a.next, a.pagenext") || strings.Contains(text, "下一页") || strings.EqualFold(text, "next") {
			href, _ := s.Attr("href")
			href = strings.TrimSpace(href)
			if href != "" && href != "#" && !strings.HasPrefix(href, "javascript") && !s.HasClass("disabled") {
				hasNext = true
				return false
			}
		}
		return true
	})
	return !hasNext
}

// metadataLabels 元数据标签
var metadataLabels = map[string][]string{
	"director": {"导演", "director"},
	"year":     {"年份", "上映", "year"},
	"language": {"语言", "language"},
}

// ExtractMetadata 详情页元数据
func (a *YatuAdapter) ExtractMetadata(html string) models.SeriesMetadata {
	var meta models.SeriesMetadata
	doc := a.parse(html)
	if doc == nil {
		return meta
	}

	meta.Title = strings.TrimSpace(doc.Find(a.sel.Title).First().Text())
	meta.Description = strings.TrimSpace(doc.Find(a.sel.Description).First().Text())
	if meta.Description == "" {
		meta.Description, _ = doc.Find(`meta[name="description"]`).Attr("content")
	}

	doc.Find(a.sel.MetadataFields).Each(func(i int, s *goquery.Selection) {
		// 只看叶子元素, 避免父元素的文本把多个字段拼在一起
		if s.Children().Length() > 1 {
			return
		}
		text := strings.TrimSpace(s.Text())
		for field, labels := range metadataLabels {
			for _, l := range labels {
				value, ok := labelValue(text, l)
				if !ok {
					continue
				}
				switch field {
				case "director":
					if meta.Director == "" {
						meta.Director = value
					}
				case "year":
					if meta.Year == "" {
						meta.Year = value
					}
				case "language":
					if meta.Language == "" {
						meta.Language = value
					}
				}
			}
		}
	})
	return meta
}

func labelValue(text, label string) (string, bool) {
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, strings.ToLower(label)) {
		return "", false
	}
	rest := strings.TrimSpace(text[len(label):])
	rest = strings.TrimLeft(rest, ":： ")
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}

// ExtractSources 播放页上的备用来源
func (a *YatuAdapter) ExtractSources(html string) []models.SourceLink {
	doc := a.parse(html)
	if doc == nil {
		return nil
	}

	var out []models.SourceLink
	seen := make(map[string]bool)
	doc.Find(a.sel.Source).Each(func(i int, s *goquery.Selection) {
		raw, ok := s.Attr("data-src")
		if !ok || raw == "" {
			raw, _ = s.Attr("href")
		}
		abs := a.absolute(raw)
		if abs == "" || seen[abs] || strings.HasPrefix(abs, "javascript") {
			return
		}
		seen[abs] = true
		out = append(out, models.SourceLink{Name: strings.TrimSpace(s.Text()), URL: abs})
	})
	return out
}
