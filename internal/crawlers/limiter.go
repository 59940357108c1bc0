package crawlers

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// LimitedFetcher 为底层抓取器加上全局并发上限和每主机限速
// 两级worker池的乘积可能超过站点承受能力,这里是硬上限
type LimitedFetcher struct {
	next Fetcher
	sem  *semaphore.Weighted

	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimitedFetcher 创建限流抓取器, maxInFlight<=0 表示不限并发, rps<=0 表示不限速
func NewLimitedFetcher(next Fetcher, maxInFlight int64, rps float64, burst int) *LimitedFetcher {
	lf := &LimitedFetcher{
		next:     next,
		rps:      rate.Inf,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
	if maxInFlight > 0 {
		lf.sem = semaphore.NewWeighted(maxInFlight)
	}
	if rps > 0 {
		lf.rps = rate.Limit(rps)
	}
	if lf.burst <= 0 {
		lf.burst = 1
	}
	return lf
}

// Fetch 获取令牌后抓取
func (f *LimitedFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("限速等待: %w", ctxErr)
		}
		// 等待令牌会超过截止时间, 与抓取超时同等对待
		return nil, fmt.Errorf("限速等待: %v: %w", err, context.DeadlineExceeded)
	}
	if f.sem != nil {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("等待并发槽位: %w", err)
		}
		defer f.sem.Release(1)
	}
	return f.next.Fetch(ctx, rawURL)
}

func (f *LimitedFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.rps, f.burst)
		f.limiters[host] = l
	}
	return l
}
