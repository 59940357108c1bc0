package core

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// OrchestratorConfig 列表页抓取配置
type OrchestratorConfig struct {
	MaxPages       int
	ListingWorkers int // >1 时同时抓取的列表页窗口
}

// Orchestrator 遍历分类列表页, 收集去重后的候选剧集
type Orchestrator struct {
	cfg     OrchestratorConfig
	fetcher crawlers.Fetcher
	adapter adapter.ContentAdapter
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg OrchestratorConfig, fetcher crawlers.Fetcher, ad adapter.ContentAdapter) *Orchestrator {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 500
	}
	if cfg.ListingWorkers <= 0 {
		cfg.ListingWorkers = 1
	}
	return &Orchestrator{cfg: cfg, fetcher: fetcher, adapter: ad}
}

// listingPage 一个列表页的抓取结果
type listingPage struct {
	items []models.Item
	last  bool
	err   error
}

// Discover 按分类顺序收集候选剧集, 跨分类按首次出现去重
func (o *Orchestrator) Discover(ctx context.Context, categories []string) []models.Item {
	var out []models.Item
	seen := make(map[string]bool)

	for _, tpl := range categories {
		if ctx.Err() != nil {
			break
		}
		found := o.crawlCategory(ctx, tpl)
		added := 0
		for _, it := range found {
			if seen[it.SeriesID] {
				continue
			}
			seen[it.SeriesID] = true
			out = append(out, it)
			added++
		}
		utils.Logger.Info().Str("category", tpl).Int("found", len(found)).Int("new", added).Msg("🔎 分类扫描完成")
	}
	return out
}

// crawlCategory 从第1页开始翻页, 遇到空页或最后一页停止
func (o *Orchestrator) crawlCategory(ctx context.Context, tpl string) []models.Item {
	var items []models.Item

	for start := 1; start <= o.cfg.MaxPages; start += o.cfg.ListingWorkers {
		end := min(start+o.cfg.ListingWorkers-1, o.cfg.MaxPages)
		window := o.fetchWindow(ctx, tpl, start, end)

		for i, page := range window {
			n := start + i
			if page.err != nil {
				utils.Logger.Warn().Err(page.err).Str("category", tpl).Int("page", n).Msg("列表页抓取失败, 停止该分类")
				return items
			}
			if len(page.items) == 0 {
				utils.Debugf("分类 %s 第 %d 页为空, 停止翻页", tpl, n)
				return items
			}
			for _, it := range page.items {
				it.Category = tpl
				items = append(items, it)
			}
			if page.last {
				return items
			}
		}
		if ctx.Err() != nil {
			return items
		}
	}
	utils.Warnf("分类 %s 达到最大页数 %d", tpl, o.cfg.MaxPages)
	return items
}

// fetchWindow 并发抓取 [start, end] 页, 结果按页码排列
func (o *Orchestrator) fetchWindow(ctx context.Context, tpl string, start, end int) []listingPage {
	pages := make([]listingPage, end-start+1)
	if len(pages) == 1 {
		pages[0] = o.fetchListing(ctx, utils.ExpandPage(tpl, start))
		return pages
	}

	p := pool.New().WithMaxGoroutines(len(pages))
	for i := range pages {
		p.Go(func() {
			pages[i] = o.fetchListing(ctx, utils.ExpandPage(tpl, start+i))
		})
	}
	p.Wait()
	return pages
}

func (o *Orchestrator) fetchListing(ctx context.Context, url string) listingPage {
	page, err := o.fetcher.Fetch(ctx, url)
	if err != nil {
		return listingPage{err: err}
	}
	html := page.HTML()
	return listingPage{
		items: o.adapter.ExtractCandidates(html),
		last:  o.adapter.IsLastPage(html),
	}
}
