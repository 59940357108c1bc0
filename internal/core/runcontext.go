package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/resolver"
	"github.com/RecoveryAshes/yatucrawl/internal/scheduler"
	"github.com/RecoveryAshes/yatucrawl/internal/store"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// RunContext 一次运行共享的组件
type RunContext struct {
	RunID  string
	Mode   models.RunMode
	Config *Config

	Store    store.Store
	Fetcher  crawlers.Fetcher // 已包含限流、分类和退避
	Backoff  *crawlers.BackoffController
	Adapter  adapter.ContentAdapter
	Chain    *resolver.Chain
	Template *resolver.EpisodeTemplate
	Monitor  *crawlers.ResourceMonitor
	Stats    *models.RunStats

	Out          io.Writer // 运行摘要输出
	ShowProgress bool

	closers []io.Closer
}

// NewRunContext 打开存储并组装抓取链路
// 存储打开失败属于致命错误
func NewRunContext(ctx context.Context, cfg *Config, mode models.RunMode, headers models.HeaderProvider) (*RunContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tpl, err := cfg.EpisodeTemplate()
	if err != nil {
		return nil, err
	}
	ad, err := adapter.NewYatuAdapter(cfg.Site.BaseURL, cfg.Site.Selectors)
	if err != nil {
		return nil, &models.ValidationError{Field: "site.selectors", Reason: err.Error()}
	}

	st, err := store.Open(ctx, cfg.StoreSettings())
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	rc := &RunContext{
		RunID:    models.NewRunID(),
		Mode:     mode,
		Config:   cfg,
		Store:    st,
		Adapter:  ad,
		Template: tpl,
		Stats:    &models.RunStats{},
		Out:      os.Stdout,
		closers:  []io.Closer{st},
	}

	base, err := rc.baseFetcher(headers)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	fc := cfg.FetchSettings()
	limited := crawlers.NewLimitedFetcher(base, fc.MaxInFlight, fc.RPS, fc.Burst)
	rc.Backoff = crawlers.NewBackoffController(cfg.BackoffSettings())
	rc.Fetcher = crawlers.NewGuardedFetcher(limited, crawlers.NewClassifier(cfg.Backoff.MinMarkerHits), rc.Backoff)
	rc.Chain = resolver.NewChain(rc.Fetcher, cfg.ChainSettings())
	rc.Monitor = crawlers.NewResourceMonitor()

	utils.Logger.Info().
		Str("run_id", rc.RunID).
		Str("mode", string(mode)).
		Str("store", cfg.Store.Driver).
		Str("fetch_mode", cfg.Fetch.Mode).
		Msg("🚀 运行环境就绪")
	return rc, nil
}

func (rc *RunContext) baseFetcher(headers models.HeaderProvider) (crawlers.Fetcher, error) {
	fc := rc.Config.FetchSettings()
	if rc.Config.Fetch.Mode == "browser" {
		rf, err := crawlers.NewRodFetcher(fc, headers)
		if err != nil {
			return nil, err
		}
		rc.closers = append(rc.closers, rf)
		return rf, nil
	}
	return crawlers.NewCollyFetcher(fc, headers), nil
}

// SeriesScheduler 按配置组装两级调度器
func (rc *RunContext) SeriesScheduler() *scheduler.SeriesScheduler {
	eps := scheduler.NewEpisodeScheduler(rc.Store, rc.Chain, rc.Adapter, rc.Stats, rc.Config.Crawl.EpisodeWorkers)
	return scheduler.NewSeriesScheduler(scheduler.SeriesConfig{
		Workers:  rc.Config.Crawl.SeriesWorkers,
		Mode:     rc.Mode,
		Template: rc.Template,
	}, rc.Store, rc.Fetcher, rc.Adapter, eps, rc.Stats)
}

// Close 释放浏览器和存储
func (rc *RunContext) Close() error {
	var errs []error
	for i := len(rc.closers) - 1; i >= 0; i-- {
		if err := rc.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rc.closers = nil
	return errors.Join(errs...)
}
