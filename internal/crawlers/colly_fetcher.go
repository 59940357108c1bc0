package crawlers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// CollyFetcher 基于colly的HTTP抓取器
// 每次抓取克隆基础collector,回调互不干扰
type CollyFetcher struct {
	cfg            FetchConfig
	headerProvider models.HeaderProvider
	baseCollector  *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyFetcher 创建抓取器
func NewCollyFetcher(cfg FetchConfig, headerProvider models.HeaderProvider) *CollyFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchConfig().Timeout
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.ParseHTTPErrorResponse = true
	c.WithTransport(&decompressTransport{base: newHTTPTransport()})
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	utils.Debugf("HTTP抓取器: 超时 %s", cfg.Timeout)
	return &CollyFetcher{
		cfg:            cfg,
		headerProvider: headerProvider,
		baseCollector:  c,
	}
}

// Fetch 抓取单个页面
func (f *CollyFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	var (
		page     *Page
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureHooks(collector, &page, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("抓取被取消 [%s]: %w", url, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fetchErr
		}
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, fmt.Errorf("未收到响应 [%s]", url)
		}
		page.URL = url
		return page, nil
	}
}

func (f *CollyFetcher) configureHooks(hooks collectorHooks, page **Page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.applyHeaders(r)
		utils.Debugf("访问: %s", r.URL.String())
	})

	hooks.OnResponse(func(r *colly.Response) {
		*page = &Page{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       toUTF8(r.Headers.Get("Content-Type"), append([]byte(nil), r.Body...)),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *CollyFetcher) applyHeaders(r *colly.Request) {
	if f.headerProvider == nil {
		return
	}
	headers, err := f.headerProvider.GetHeaders()
	if err != nil {
		utils.Warnf("获取HTTP头部失败: %v", err)
		return
	}
	for name, values := range headers {
		if len(values) > 0 {
			r.Headers.Set(name, values[0])
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // 镜像站常见自签名证书
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
