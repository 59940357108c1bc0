package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/resolver"
	"github.com/RecoveryAshes/yatucrawl/internal/store"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// SeriesConfig 剧集调度器配置
type SeriesConfig struct {
	Workers  int
	Mode     models.RunMode
	Template *resolver.EpisodeTemplate // nil 使用默认模板
}

// SeriesScheduler 剧集调度器
type SeriesScheduler struct {
	cfg      SeriesConfig
	store    store.Store
	fetcher  crawlers.Fetcher
	adapter  adapter.ContentAdapter
	episodes *EpisodeScheduler
	stats    *models.RunStats
	log      zerolog.Logger
}

// NewSeriesScheduler 创建剧集调度器
func NewSeriesScheduler(cfg SeriesConfig, st store.Store, fetcher crawlers.Fetcher, ad adapter.ContentAdapter, episodes *EpisodeScheduler, stats *models.RunStats) *SeriesScheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModeCrawl
	}
	if stats == nil {
		stats = &models.RunStats{}
	}
	return &SeriesScheduler{
		cfg:      cfg,
		store:    st,
		fetcher:  fetcher,
		adapter:  ad,
		episodes: episodes,
		stats:    stats,
		log:      utils.Component("series"),
	}
}

// Run 并发处理一批剧集, 结果与输入顺序一致
func (s *SeriesScheduler) Run(ctx context.Context, items []models.Item) []models.SeriesResult {
	results := make([]models.SeriesResult, len(items))

	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for i, item := range items {
		p.Go(func() {
			r := s.Process(ctx, item)
			s.stats.RecordSeries(r)
			results[i] = r
		})
	}
	p.Wait()
	return results
}

// Process 处理单个剧集: 详情页 → 推断分集 → 写入剧集 → 分集调度
func (s *SeriesScheduler) Process(ctx context.Context, item models.Item) models.SeriesResult {
	result := models.SeriesResult{SeriesID: item.SeriesID}
	if ctx.Err() != nil {
		result.Status = models.SeriesStatusCancelled
		return result
	}
	log := s.log.With().Str("series_id", item.SeriesID).Logger()

	complete, err := s.store.IsSeriesComplete(ctx, item.SeriesID)
	if err != nil {
		return s.fail(result, fmt.Errorf("查询剧集状态失败: %w", err), true)
	}
	if complete {
		log.Debug().Msg("剧集已完成, 跳过")
		result.Status = models.SeriesStatusSkipped
		return result
	}

	html, err := s.detailHTML(context.WithoutCancel(ctx), item)
	if err != nil {
		log.Warn().Err(err).Str("url", item.URL).Msg("详情页抓取失败")
		return s.fail(result, err, false)
	}

	series := &models.Series{
		SeriesID:   item.SeriesID,
		Title:      item.Title,
		SourceURL:  item.URL,
		Category:   item.Category,
		DetailHTML: html,
	}
	if me, ok := s.adapter.(adapter.MetadataExtractor); ok {
		series.ApplyMetadata(me.ExtractMetadata(html))
	}

	episodes, err := resolver.InferEpisodes(s.adapter.ExtractEpisodeSamples(html), s.cfg.Template)
	if err != nil {
		// 仍然保存剧集和详情页, 之后resume可以直接复用
		if upErr := s.store.UpsertSeries(ctx, series); upErr != nil {
			return s.fail(result, upErr, true)
		}
		log.Warn().Err(err).Msg("⚠️  无法推断分集")
		result.Status = models.SeriesStatusNoPattern
		result.Err = err
		return result
	}

	series.EpisodeCount = len(episodes)
	if err := s.store.UpsertSeries(ctx, series); err != nil {
		return s.fail(result, err, true)
	}

	sum := s.episodes.Run(ctx, series, episodes)
	result.Episodes = sum.Total
	result.Resolved = sum.Resolved
	result.Failed = sum.Failed
	result.Skipped = sum.Skipped

	switch {
	case sum.Done():
		result.Status = models.SeriesStatusCompleted
		log.Info().Int("episodes", sum.Total).Msg("✅ 剧集完成")
	default:
		result.Status = models.SeriesStatusPartial
		result.Err = fmt.Errorf("%d/%d 个分集未解析: %w", sum.Total-sum.Resolved-sum.Skipped, sum.Total, models.ErrPartialCompletion)
		log.Warn().
			Int("episodes", sum.Total).
			Int("resolved", sum.Resolved+sum.Skipped).
			Int("cancelled", sum.Cancelled).
			Msg("剧集未全部完成")
	}
	return result
}

// detailHTML resume模式优先复用已保存的详情页
func (s *SeriesScheduler) detailHTML(ctx context.Context, item models.Item) (string, error) {
	if s.cfg.Mode == models.ModeResume {
		existing, err := s.store.GetSeries(ctx, item.SeriesID)
		switch {
		case err == nil && existing.DetailHTML != "":
			return existing.DetailHTML, nil
		case err != nil && !errors.Is(err, models.ErrNotFound):
			s.stats.StoreErrors.Add(1)
		}
	}

	page, err := s.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return "", err
	}
	return page.HTML(), nil
}

func (s *SeriesScheduler) fail(result models.SeriesResult, err error, storeErr bool) models.SeriesResult {
	if storeErr {
		s.stats.StoreErrors.Add(1)
		s.log.Error().Err(err).Str("series_id", result.SeriesID).Msg("❌ 存储错误")
	}
	result.Status = models.SeriesStatusFailed
	result.Err = err
	return result
}
