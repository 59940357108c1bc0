// Package resolver 分集推断与播放地址解析
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// DefaultMaxEpisodes 单个剧集的集数上限, 超过的样本链接视为无效
const DefaultMaxEpisodes = 5000

// EpisodeTemplate 分集URL寻址方案
// Pattern 的第1个分组为线路号, 第2个分组为集数; Format 依次接收线路号和集数
type EpisodeTemplate struct {
	Pattern     *regexp.Regexp
	Format      string
	MaxEpisodes int // <=0 使用 DefaultMaxEpisodes
}

// WithMaxEpisodes 返回设置了集数上限的副本
func (t *EpisodeTemplate) WithMaxEpisodes(n int) *EpisodeTemplate {
	cp := *t
	cp.MaxEpisodes = n
	return &cp
}

func (t *EpisodeTemplate) maxEpisodes() int {
	if t.MaxEpisodes <= 0 {
		return DefaultMaxEpisodes
	}
	return t.MaxEpisodes
}

// DefaultEpisodeTemplate 形如 play0-12.html 的寻址方案
var DefaultEpisodeTemplate = &EpisodeTemplate{
	Pattern: regexp.MustCompile(`play(\d+)-(\d+)\.html`),
	Format:  "play%d-%d.html",
}

// NewEpisodeTemplate 由配置创建寻址方案
func NewEpisodeTemplate(pattern, format string) (*EpisodeTemplate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("分集正则无效: %w", err)
	}
	if re.NumSubexp() < 2 {
		return nil, fmt.Errorf("分集正则需要两个分组(线路, 集数): %s", pattern)
	}
	return &EpisodeTemplate{Pattern: re, Format: format}, nil
}

// InferredEpisode 推断出的分集
type InferredEpisode struct {
	Number int
	Label  string
	Line   int
	URL    string
}

type sampleMatch struct {
	url        string
	start, end int
	line       int
	episode    int
}

// InferEpisodes 由详情页上的部分分集链接推断完整分集列表
// 输出 1..最大集数, 全部使用规范线路(有0线路用0, 否则用最小线路号)
// 集数超过上限的样本被丢弃, 全部丢弃时返回 ErrNoPattern
func InferEpisodes(samples []models.EpisodeLink, tpl *EpisodeTemplate) ([]InferredEpisode, error) {
	if tpl == nil {
		tpl = DefaultEpisodeTemplate
	}

	var matches []sampleMatch
	lines := make(map[int]bool)
	maxEpisode := 0
	limit := tpl.maxEpisodes()
	for _, s := range samples {
		loc := tpl.Pattern.FindStringSubmatchIndex(s.RawURL)
		if loc == nil {
			continue
		}
		line, err1 := strconv.Atoi(s.RawURL[loc[2]:loc[3]])
		ep, err2 := strconv.Atoi(s.RawURL[loc[4]:loc[5]])
		if err1 != nil || err2 != nil {
			continue
		}
		if ep > limit {
			utils.Logger.Debug().Str("url", s.RawURL).Int("episode", ep).Msg("分集号超出上限, 忽略该链接")
			continue
		}
		matches = append(matches, sampleMatch{url: s.RawURL, start: loc[0], end: loc[1], line: line, episode: ep})
		lines[line] = true
		if ep > maxEpisode {
			maxEpisode = ep
		}
	}
	if len(matches) == 0 || maxEpisode == 0 {
		return nil, models.ErrNoPattern
	}

	canonical := canonicalLine(lines)
	var base sampleMatch
	for _, m := range matches {
		if m.line == canonical {
			base = m
			break
		}
	}

	out := make([]InferredEpisode, 0, maxEpisode)
	for n := 1; n <= maxEpisode; n++ {
		out = append(out, InferredEpisode{
			Number: n,
			Label:  models.EpisodeLabel(n),
			Line:   canonical,
			URL:    base.url[:base.start] + fmt.Sprintf(tpl.Format, canonical, n) + base.url[base.end:],
		})
	}
	return out, nil
}

func canonicalLine(lines map[int]bool) int {
	if lines[0] {
		return 0
	}
	keys := make([]int, 0, len(lines))
	for l := range lines {
		keys = append(keys, l)
	}
	sort.Ints(keys)
	return keys[0]
}
