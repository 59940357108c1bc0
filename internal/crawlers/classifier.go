package crawlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// shortBodyLimit 小于该长度的页面命中1个标记即判定
const shortBodyLimit = 4096

// markerRule 某一类别的正文标记
type markerRule struct {
	Category models.ErrorCategory
	Markers  []string
}

// defaultMarkerRules 按顺序匹配,先命中者优先
var defaultMarkerRules = []markerRule{
	{models.CategoryAuth, []string{"请登录", "登录后观看", "需要登录", "验证码", "captcha", "login required", "sign in to continue", "access denied"}},
	{models.CategoryRateLimit, []string{"访问过于频繁", "请求过于频繁", "请稍后再试", "too many requests", "rate limit", "slow down"}},
	{models.CategoryServer, []string{"系统维护", "服务器维护", "服务器错误", "service unavailable", "bad gateway", "internal server error", "under maintenance"}},
}

// defaultContentSignals 出现即视为正常内容页
var defaultContentSignals = []string{
	"<iframe",
	"playiframe",
	"player_",
	"mac_player",
	"play0-",
	".m3u8",
}

// Classifier 抓取失败分类器
type Classifier struct {
	rules          []markerRule
	contentSignals []string
	minMarkerHits  int // 长页面需要命中的标记数
}

// NewClassifier 创建分类器, minMarkerHits<=0 时使用2
func NewClassifier(minMarkerHits int) *Classifier {
	if minMarkerHits <= 0 {
		minMarkerHits = 2
	}
	return &Classifier{
		rules:          defaultMarkerRules,
		contentSignals: defaultContentSignals,
		minMarkerHits:  minMarkerHits,
	}
}

// Classify 检查一次抓取的结果, 成功返回nil, 失败返回 *models.FetchError
func (c *Classifier) Classify(url string, page *Page, err error) error {
	if err != nil {
		return &models.FetchError{Category: c.ClassifyTransport(err), URL: url, Err: err}
	}
	if page == nil {
		return &models.FetchError{Category: models.CategoryUnknown, URL: url, Err: errors.New("空响应")}
	}
	if cat, bad := c.ClassifyStatus(page.StatusCode); bad {
		return &models.FetchError{
			Category:   cat,
			URL:        url,
			StatusCode: page.StatusCode,
			Err:        errors.New(http.StatusText(page.StatusCode)),
		}
	}
	if cat, bad := c.ClassifyBody(page.Body); bad {
		return &models.FetchError{
			Category:   cat,
			URL:        url,
			StatusCode: page.StatusCode,
			Err:        fmt.Errorf("页面内容命中%s标记", cat),
		}
	}
	return nil
}

// ClassifyTransport 传输层错误分类
func (c *Classifier) ClassifyTransport(err error) models.ErrorCategory {
	if err == nil {
		return models.CategoryUnknown
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.As(err, &dnsErr),
		errors.As(err, &netErr):
		return models.CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "connection reset", "connection refused", "no such host", "eof", "tls handshake"} {
		if strings.Contains(msg, s) {
			return models.CategoryNetwork
		}
	}
	return models.CategoryUnknown
}

// ClassifyStatus HTTP状态码分类, 2xx/3xx 返回 false
func (c *Classifier) ClassifyStatus(code int) (models.ErrorCategory, bool) {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return models.CategoryAuth, true
	case code == http.StatusTooManyRequests:
		return models.CategoryRateLimit, true
	case code >= 500:
		return models.CategoryServer, true
	case code >= 400:
		return models.CategoryUnknown, true
	}
	return "", false
}

// ClassifyBody 对2xx页面做正文检查, 返回是否为伪装成功的错误页
// 正常内容信号优先: 出现播放器/iframe等标记直接视为正常
func (c *Classifier) ClassifyBody(body []byte) (models.ErrorCategory, bool) {
	if len(body) == 0 {
		return "", false
	}
	text := strings.ToLower(string(body))
	for _, s := range c.contentSignals {
		if strings.Contains(text, s) {
			return "", false
		}
	}

	need := c.minMarkerHits
	if len(body) < shortBodyLimit {
		need = 1
	}
	for _, rule := range c.rules {
		hits := 0
		for _, m := range rule.Markers {
			if strings.Contains(text, m) {
				hits++
			}
		}
		if hits >= need {
			return rule.Category, true
		}
	}
	return "", false
}
