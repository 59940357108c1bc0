package resolver

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// Strategy 一种解析方式, 找到播放地址时返回 ok=true
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, doc *Document) (string, bool)
}

// heuristic 结果不经验证的策略
type heuristic interface {
	Heuristic() bool
}

// minPlayerURLLength 播放地址最短长度
const minPlayerURLLength = 12

// mediaTokens 出现即视为媒体地址
var mediaTokens = []string{".m3u8", ".mp4", ".flv", ".mkv", "/m3u8/", "/share/"}

// PlayerValidator 播放地址校验
type PlayerValidator struct {
	domains []string
}

// NewPlayerValidator 创建校验器, domains 为已知播放器域名片段
func NewPlayerValidator(domains []string) *PlayerValidator {
	lower := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			lower = append(lower, d)
		}
	}
	return &PlayerValidator{domains: lower}
}

// IsValidPlayerURL 长度足够, 且为http(s)地址或包含已知播放器/媒体标记
func (v *PlayerValidator) IsValidPlayerURL(u string) bool {
	if len(u) < minPlayerURLLength {
		return false
	}
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "about:") {
		return false
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "//") {
		return true
	}
	if hasMediaToken(lower) {
		return true
	}
	for _, d := range v.domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// isMediaCandidate 带媒体扩展名标记或已知播放器域名
func (v *PlayerValidator) isMediaCandidate(u string) bool {
	if hasMediaToken(u) {
		return true
	}
	lower := strings.ToLower(u)
	for _, d := range v.domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

func hasMediaToken(u string) bool {
	lower := strings.ToLower(u)
	for _, t := range mediaTokens {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// acceptIframe 判断iframe地址: 本站无媒体标记的是包装页, 放入待展开队列
func (v *PlayerValidator) acceptIframe(doc *Document, src string) (string, bool) {
	if src == "" {
		return "", false
	}
	if embedded := embeddedURL(src); embedded != "" && v.IsValidPlayerURL(embedded) {
		return embedded, true
	}
	if doc.SameSite(src) && !hasMediaToken(src) {
		doc.QueueNested(src)
		return "", false
	}
	if v.IsValidPlayerURL(src) {
		return src, true
	}
	return "", false
}

// embeddedURL 取出播放器页面 ?url= 参数中的真实地址
func embeddedURL(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		return ""
	}
	for _, key := range []string{"url", "vid", "v"} {
		if val := u.Query().Get(key); strings.HasPrefix(val, "http") {
			return val
		}
	}
	return ""
}

// IframeByIDStrategy 按id/name查找播放器iframe
type IframeByIDStrategy struct {
	ids       map[string]bool
	validator *PlayerValidator
}

// NewIframeByIDStrategy 创建策略
func NewIframeByIDStrategy(ids []string, v *PlayerValidator) *IframeByIDStrategy {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[strings.ToLower(id)] = true
	}
	return &IframeByIDStrategy{ids: set, validator: v}
}

// Name 策略名
func (s *IframeByIDStrategy) Name() string { return "iframe-by-id" }

// Resolve 实现 Strategy
func (s *IframeByIDStrategy) Resolve(_ context.Context, doc *Document) (string, bool) {
	for _, f := range doc.Iframes {
		if s.ids[strings.ToLower(f.ID)] || s.ids[strings.ToLower(f.Name)] {
			doc.MarkIdentified()
			if u, ok := s.validator.acceptIframe(doc, f.Src); ok {
				return u, true
			}
		}
	}
	return "", false
}

// FirstIframeStrategy 第一个有src的iframe, 仅在页面没有可识别的播放器iframe时使用
type FirstIframeStrategy struct {
	validator *PlayerValidator
}

// NewFirstIframeStrategy 创建策略
func NewFirstIframeStrategy(v *PlayerValidator) *FirstIframeStrategy {
	return &FirstIframeStrategy{validator: v}
}

// Name 策略名
func (s *FirstIframeStrategy) Name() string { return "first-iframe" }

// Resolve 实现 Strategy
func (s *FirstIframeStrategy) Resolve(_ context.Context, doc *Document) (string, bool) {
	if doc.Identified() {
		return "", false
	}
	for _, f := range doc.Iframes {
		if f.Src != "" {
			return s.validator.acceptIframe(doc, f.Src)
		}
	}
	return "", false
}

// scriptPattern 脚本中的播放地址写法
type scriptPattern struct {
	Name string
	Re   *regexp.Regexp
}

// defaultScriptPatterns 按顺序尝试
var defaultScriptPatterns = []scriptPattern{
	{"js-var-assign", regexp.MustCompile(`(?i)\b(?:video_?url|play_?url|vurl|now|player_\w+\.url)\s*[=:]\s*["']([^"']+)["']`)},
	{"loader-call", regexp.MustCompile(`(?i)\b(?:unescape|decodeURIComponent|loadVideo|ckplayer\w*|player)\s*\(\s*["']([^"']+)["']`)},
	{"bare-player-url", regexp.MustCompile(`(?i)(https?:\\?/\\?/[^\s"'<>]+?\.(?:m3u8|mp4|flv)(?:\?[^\s"'<>]*)?)`)},
}

// ScriptURLStrategy 从内联脚本中提取播放地址
// 脚本里的地址必须带媒体标记或已知播放器域名, 统计/广告脚本的地址不算
type ScriptURLStrategy struct {
	patterns  []scriptPattern
	validator *PlayerValidator
}

// NewScriptURLStrategy 创建策略
func NewScriptURLStrategy(v *PlayerValidator) *ScriptURLStrategy {
	return &ScriptURLStrategy{patterns: defaultScriptPatterns, validator: v}
}

// Name 策略名
func (s *ScriptURLStrategy) Name() string { return "script-url" }

// Resolve 实现 Strategy
func (s *ScriptURLStrategy) Resolve(_ context.Context, doc *Document) (string, bool) {
	for _, p := range s.patterns {
		for _, script := range doc.Scripts {
			for _, m := range p.Re.FindAllStringSubmatch(script, -1) {
				candidate := cleanCandidate(m[1])
				if s.validator.IsValidPlayerURL(candidate) && s.validator.isMediaCandidate(candidate) {
					utils.Logger.Debug().Str("pattern", p.Name).Str("url", candidate).Msg("脚本中找到播放地址")
					return candidate, true
				}
			}
		}
	}
	return "", false
}

func cleanCandidate(raw string) string {
	c := strings.TrimSpace(strings.ReplaceAll(raw, `\/`, "/"))
	if strings.Contains(c, "%") {
		if decoded, err := url.QueryUnescape(c); err == nil {
			c = decoded
		}
	}
	return c
}

// NestedIframeStrategy 展开本站的播放器包装页, 在其中重新应用前三种策略
type NestedIframeStrategy struct {
	fetcher  crawlers.Fetcher
	inner    []Strategy
	maxDepth int
}

// NewNestedIframeStrategy 创建策略
func NewNestedIframeStrategy(fetcher crawlers.Fetcher, inner []Strategy, maxDepth int) *NestedIframeStrategy {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	return &NestedIframeStrategy{fetcher: fetcher, inner: inner, maxDepth: maxDepth}
}

// Name 策略名
func (s *NestedIframeStrategy) Name() string { return "nested-iframe" }

// Resolve 实现 Strategy
func (s *NestedIframeStrategy) Resolve(ctx context.Context, doc *Document) (string, bool) {
	if doc.Depth >= s.maxDepth {
		return "", false
	}
	for _, u := range doc.Nested() {
		page, err := s.fetcher.Fetch(ctx, u)
		if err != nil {
			utils.Logger.Debug().Err(err).Str("url", u).Msg("包装页抓取失败")
			continue
		}
		child, err := ParseDocument(u, page.Body, doc.Depth+1)
		if err != nil {
			continue
		}
		for _, st := range s.inner {
			if v, ok := st.Resolve(ctx, child); ok {
				return v, true
			}
		}
		if v, ok := s.Resolve(ctx, child); ok {
			return v, true
		}
	}
	return "", false
}

// defaultTokenPattern 脚本中的短视频ID
var defaultTokenPattern = regexp.MustCompile(`(?i)\b(?:vid|video_?id|token)\s*[=:]\s*["']([A-Za-z0-9]{6,32})["']`)

// TokenTemplateStrategy 提取视频ID并套用CDN地址模板, 结果未经验证
type TokenTemplateStrategy struct {
	templates []string
	token     *regexp.Regexp
}

// NewTokenTemplateStrategy 创建策略, templates 按新旧排序(最新在前), 使用 {id} 占位
func NewTokenTemplateStrategy(templates []string) *TokenTemplateStrategy {
	return &TokenTemplateStrategy{templates: templates, token: defaultTokenPattern}
}

// Name 策略名
func (s *TokenTemplateStrategy) Name() string { return "token-template" }

// Heuristic 实现 heuristic
func (s *TokenTemplateStrategy) Heuristic() bool { return true }

// Resolve 实现 Strategy
func (s *TokenTemplateStrategy) Resolve(_ context.Context, doc *Document) (string, bool) {
	if len(s.templates) == 0 {
		return "", false
	}
	for _, script := range doc.Scripts {
		if m := s.token.FindStringSubmatch(script); m != nil {
			return strings.ReplaceAll(s.templates[0], "{id}", m[1]), true
		}
	}
	return "", false
}
