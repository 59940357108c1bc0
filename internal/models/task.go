package models

import (
	"sync/atomic"
)

// RunMode 运行模式
type RunMode string

const (
	ModeCrawl  RunMode = "crawl"  // 从列表页开始全量爬取
	ModeResume RunMode = "resume" // 只处理存储中未完成的剧集
)

// SeriesStatus 单个剧集任务的结果
type SeriesStatus string

const (
	SeriesStatusCompleted SeriesStatus = "completed"  // 所有分集已解析
	SeriesStatusSkipped   SeriesStatus = "skipped"    // 之前已完成,跳过
	SeriesStatusPartial   SeriesStatus = "partial"    // 部分分集未解析
	SeriesStatusNoPattern SeriesStatus = "no_pattern" // 无法推断分集
	SeriesStatusFailed    SeriesStatus = "failed"     // 详情页抓取或存储失败
	SeriesStatusCancelled SeriesStatus = "cancelled"  // 收到中断信号,未开始
)

// SeriesResult 剧集任务结果
type SeriesResult struct {
	SeriesID string       `json:"series_id"`
	Status   SeriesStatus `json:"status"`
	Episodes int          `json:"episodes"`
	Resolved int          `json:"resolved"`
	Failed   int          `json:"failed"`
	Skipped  int          `json:"skipped"`
	Err      error        `json:"-"`
}

// Done 该剧集本次运行后是否已完成
func (r SeriesResult) Done() bool {
	return r.Status == SeriesStatusCompleted || r.Status == SeriesStatusSkipped
}

// RunStats 运行期计数器,由并发的worker更新
type RunStats struct {
	SeriesDiscovered atomic.Int64
	SeriesCompleted  atomic.Int64
	SeriesSkipped    atomic.Int64
	SeriesPartial    atomic.Int64
	SeriesNoPattern  atomic.Int64
	SeriesFailed     atomic.Int64
	EpisodesResolved atomic.Int64
	EpisodesFailed   atomic.Int64
	EpisodesSkipped  atomic.Int64
	SourcesAttempted atomic.Int64
	StoreErrors      atomic.Int64
}

// RecordSeries 按结果累加剧集计数
func (s *RunStats) RecordSeries(r SeriesResult) {
	switch r.Status {
	case SeriesStatusCompleted:
		s.SeriesCompleted.Add(1)
	case SeriesStatusSkipped:
		s.SeriesSkipped.Add(1)
	case SeriesStatusPartial:
		s.SeriesPartial.Add(1)
	case SeriesStatusNoPattern:
		s.SeriesNoPattern.Add(1)
	case SeriesStatusFailed:
		s.SeriesFailed.Add(1)
	}
}

// Snapshot 取当前计数的快照
func (s *RunStats) Snapshot() RunSnapshot {
	return RunSnapshot{
		SeriesDiscovered: s.SeriesDiscovered.Load(),
		SeriesCompleted:  s.SeriesCompleted.Load(),
		SeriesSkipped:    s.SeriesSkipped.Load(),
		SeriesPartial:    s.SeriesPartial.Load(),
		SeriesNoPattern:  s.SeriesNoPattern.Load(),
		SeriesFailed:     s.SeriesFailed.Load(),
		EpisodesResolved: s.EpisodesResolved.Load(),
		EpisodesFailed:   s.EpisodesFailed.Load(),
		EpisodesSkipped:  s.EpisodesSkipped.Load(),
		SourcesAttempted: s.SourcesAttempted.Load(),
		StoreErrors:      s.StoreErrors.Load(),
	}
}

// RunSnapshot RunStats的只读副本
type RunSnapshot struct {
	SeriesDiscovered int64 `json:"series_discovered"`
	SeriesCompleted  int64 `json:"series_completed"`
	SeriesSkipped    int64 `json:"series_skipped"`
	SeriesPartial    int64 `json:"series_partial"`
	SeriesNoPattern  int64 `json:"series_no_pattern"`
	SeriesFailed     int64 `json:"series_failed"`
	EpisodesResolved int64 `json:"episodes_resolved"`
	EpisodesFailed   int64 `json:"episodes_failed"`
	EpisodesSkipped  int64 `json:"episodes_skipped"`
	SourcesAttempted int64 `json:"sources_attempted"`
	StoreErrors      int64 `json:"store_errors"`
}

// Incomplete 本次运行后仍未完成的剧集数
func (s RunSnapshot) Incomplete() int64 {
	return s.SeriesPartial + s.SeriesFailed
}

// StoreStats 存储统计
type StoreStats struct {
	SeriesCount      int              `json:"series_count"`
	CompleteSeries   int              `json:"complete_series"`
	EpisodeCount     int              `json:"episode_count"`
	ResolvedEpisodes int              `json:"resolved_episodes"`
	SourceCount      int              `json:"source_count"`
	ResolvedSources  int              `json:"resolved_sources"`
	Series           []SeriesProgress `json:"series,omitempty"`
}

// SeriesProgress 单个剧集的解析进度
type SeriesProgress struct {
	SeriesID     string `json:"series_id"`
	Title        string `json:"title"`
	EpisodeCount int    `json:"episode_count"`
	Resolved     int    `json:"resolved"`
}

// Complete 分集是否全部解析
func (p SeriesProgress) Complete() bool {
	return p.EpisodeCount > 0 && p.Resolved >= p.EpisodeCount
}
