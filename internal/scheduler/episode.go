// Package scheduler 两级有界工作池: 剧集 → 分集
//
// 每个工作单元开始前先查询存储, 已完成的单元直接跳过, 因此中断后重新运行
// 不会重复抓取。单元一旦开始就在脱离取消信号的上下文中执行到持久化为止。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/RecoveryAshes/yatucrawl/internal/adapter"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/resolver"
	"github.com/RecoveryAshes/yatucrawl/internal/store"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// DefaultWorkers 默认并发数
const DefaultWorkers = 10

// Resolver 播放页解析, 由 resolver.Chain 实现
type Resolver interface {
	Resolve(ctx context.Context, pageURL string) (*resolver.Resolution, error)
}

// EpisodeSummary 一个剧集下分集任务的汇总
type EpisodeSummary struct {
	Total     int
	Resolved  int
	Failed    int
	Skipped   int
	Cancelled int
}

// Done 全部分集已解析(本次或之前)
func (s EpisodeSummary) Done() bool {
	return s.Total > 0 && s.Resolved+s.Skipped == s.Total
}

// EpisodeScheduler 分集调度器
type EpisodeScheduler struct {
	store   store.Store
	chain   Resolver
	sources adapter.SourceExtractor // 可为nil
	stats   *models.RunStats
	workers int
	log     zerolog.Logger
}

// NewEpisodeScheduler 创建分集调度器
// ad 实现了 adapter.SourceExtractor 时启用备用来源
func NewEpisodeScheduler(st store.Store, chain Resolver, ad adapter.ContentAdapter, stats *models.RunStats, workers int) *EpisodeScheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if stats == nil {
		stats = &models.RunStats{}
	}
	s := &EpisodeScheduler{
		store:   st,
		chain:   chain,
		stats:   stats,
		workers: workers,
		log:     utils.Component("episodes"),
	}
	if se, ok := ad.(adapter.SourceExtractor); ok {
		s.sources = se
	}
	return s
}

type episodeOutcome int

const (
	outcomeResolved episodeOutcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeCancelled
)

// Run 并发处理一个剧集的全部分集, 每个分集只提交一次
func (s *EpisodeScheduler) Run(ctx context.Context, series *models.Series, episodes []resolver.InferredEpisode) EpisodeSummary {
	var resolved, skipped, failed, cancelled atomic.Int64

	p := pool.New().WithMaxGoroutines(s.workers)
	for _, ep := range episodes {
		p.Go(func() {
			switch s.process(ctx, series, ep) {
			case outcomeResolved:
				resolved.Add(1)
			case outcomeSkipped:
				skipped.Add(1)
			case outcomeFailed:
				failed.Add(1)
			case outcomeCancelled:
				cancelled.Add(1)
			}
		})
	}
	p.Wait()

	return EpisodeSummary{
		Total:     len(episodes),
		Resolved:  int(resolved.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Cancelled: int(cancelled.Load()),
	}
}

func (s *EpisodeScheduler) process(ctx context.Context, series *models.Series, ep resolver.InferredEpisode) episodeOutcome {
	if ctx.Err() != nil {
		return outcomeCancelled
	}
	// 已开始的单元执行到持久化为止
	ctx = context.WithoutCancel(ctx)
	log := s.log.With().Str("series_id", series.SeriesID).Str("episode_id", ep.Label).Logger()

	done, err := s.store.IsEpisodeResolved(ctx, series.SeriesID, ep.Label)
	if err != nil {
		s.stats.StoreErrors.Add(1)
		s.stats.EpisodesFailed.Add(1)
		log.Error().Err(err).Msg("查询分集状态失败")
		return outcomeFailed
	}
	if done {
		s.stats.EpisodesSkipped.Add(1)
		return outcomeSkipped
	}

	episode := &models.Episode{
		SeriesID:      series.SeriesID,
		EpisodeID:     ep.Label,
		EpisodeNumber: ep.Number,
		SourceLineID:  ep.Line,
		SourceURL:     ep.URL,
	}

	res, err := s.chain.Resolve(ctx, ep.URL)
	switch {
	case err == nil:
		episode.ResolvedURL = res.URL
		episode.Note = res.Note()
		s.saveSource(ctx, &models.Source{
			SeriesID:     series.SeriesID,
			EpisodeID:    ep.Label,
			SourceID:     models.SourceIDDirect,
			SourceName:   res.Strategy,
			CandidateURL: ep.URL,
			ResolvedURL:  res.URL,
		})
	case errors.Is(err, models.ErrResolutionExhausted):
		episode.Note = resolver.NoteNoResolution
		if alt, note := s.tryAlternates(ctx, series.SeriesID, ep.Label, res); alt != "" {
			episode.ResolvedURL = alt
			episode.Note = note
		}
	default:
		episode.Note = fmt.Sprintf("fetch failed: %s", models.CategoryOf(err))
		log.Warn().Err(err).Str("url", ep.URL).Msg("播放页抓取失败")
	}

	if err := s.store.SaveEpisode(ctx, episode); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			s.stats.EpisodesSkipped.Add(1)
			return outcomeSkipped
		}
		s.stats.StoreErrors.Add(1)
		s.stats.EpisodesFailed.Add(1)
		log.Error().Err(err).Msg("保存分集失败")
		return outcomeFailed
	}

	if !episode.Resolved() {
		s.stats.EpisodesFailed.Add(1)
		log.Debug().Str("note", episode.Note).Msg("分集未解析")
		return outcomeFailed
	}
	s.stats.EpisodesResolved.Add(1)
	log.Debug().Str("note", episode.Note).Msg("✅ 分集已解析")
	return outcomeResolved
}

// tryAlternates 依次尝试播放页上的备用来源, 第一个成功即停止
func (s *EpisodeScheduler) tryAlternates(ctx context.Context, seriesID, episodeID string, res *resolver.Resolution) (string, string) {
	if s.sources == nil || res == nil || res.Page == nil {
		return "", ""
	}

	for i, link := range s.sources.ExtractSources(res.Page.HTML()) {
		sourceID := models.ExternalSourceID(i + 1)
		tried, err := s.store.HasSource(ctx, seriesID, episodeID, sourceID)
		if err != nil {
			s.stats.StoreErrors.Add(1)
			continue
		}
		if tried {
			continue
		}

		s.stats.SourcesAttempted.Add(1)
		src := &models.Source{
			SeriesID:     seriesID,
			EpisodeID:    episodeID,
			SourceID:     sourceID,
			SourceName:   link.Name,
			CandidateURL: link.URL,
		}
		alt, err := s.chain.Resolve(ctx, link.URL)
		if err == nil {
			src.ResolvedURL = alt.URL
		}
		s.saveSource(ctx, src)
		if src.ResolvedURL != "" {
			return src.ResolvedURL, sourceID + ": " + alt.Note()
		}
	}
	return "", ""
}

func (s *EpisodeScheduler) saveSource(ctx context.Context, src *models.Source) {
	err := s.store.SaveSource(ctx, src)
	if err == nil || errors.Is(err, models.ErrDuplicate) {
		return
	}
	s.stats.StoreErrors.Add(1)
	s.log.Warn().Err(err).
		Str("series_id", src.SeriesID).
		Str("episode_id", src.EpisodeID).
		Str("source_id", src.SourceID).
		Msg("保存来源失败")
}
