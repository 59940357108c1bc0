package store

import (
	"context"
	"sort"
	"sync"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// MemoryStore 内存存储,用于测试和演练(dry run)
type MemoryStore struct {
	mu       sync.RWMutex
	series   map[string]models.Series
	order    []string
	episodes map[string]models.Episode
	sources  map[string]models.Source
	flushes  int
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:   make(map[string]models.Series),
		episodes: make(map[string]models.Episode),
		sources:  make(map[string]models.Source),
	}
}

// UpsertSeries 插入或更新剧集
func (s *MemoryStore) UpsertSeries(_ context.Context, series *models.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stampSeries(series)
	existing, ok := s.series[series.SeriesID]
	if !ok {
		s.series[series.SeriesID] = *series
		s.order = append(s.order, series.SeriesID)
		return nil
	}

	merged := *series
	merged.CrawledAt = existing.CrawledAt
	if merged.Title == "" {
		merged.Title = existing.Title
	}
	if merged.SourceURL == "" {
		merged.SourceURL = existing.SourceURL
	}
	if merged.Category == "" {
		merged.Category = existing.Category
	}
	if merged.DetailHTML == "" {
		merged.DetailHTML = existing.DetailHTML
	}
	s.series[series.SeriesID] = merged
	return nil
}

// GetSeries 读取剧集
func (s *MemoryStore) GetSeries(_ context.Context, seriesID string) (*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[seriesID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &sr, nil
}

// IsSeriesComplete 剧集是否已全部解析
func (s *MemoryStore) IsSeriesComplete(_ context.Context, seriesID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sr, ok := s.series[seriesID]
	if !ok {
		return false, nil
	}
	return s.progressLocked(sr).Complete(), nil
}

// IsEpisodeResolved 分集是否已解析
func (s *MemoryStore) IsEpisodeResolved(_ context.Context, seriesID, episodeID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.episodes[episodeKey(seriesID, episodeID)]
	return ok && e.Resolved(), nil
}

// SaveEpisode 写入分集
func (s *MemoryStore) SaveEpisode(_ context.Context, e *models.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := episodeKey(e.SeriesID, e.EpisodeID)
	if _, ok := s.series[e.SeriesID]; !ok {
		return writeErr("save_episode", key, models.ErrNotFound)
	}
	if existing, ok := s.episodes[key]; ok && existing.Resolved() {
		return writeErr("save_episode", key, models.ErrDuplicate)
	}
	if e.CrawledAt.IsZero() {
		e.CrawledAt = nowUTC()
	}
	s.episodes[key] = *e
	return nil
}

// HasSource 来源是否已尝试
func (s *MemoryStore) HasSource(_ context.Context, seriesID, episodeID, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sources[sourceKey(seriesID, episodeID, sourceID)]
	return ok, nil
}

// SaveSource 写入来源尝试记录
func (s *MemoryStore) SaveSource(_ context.Context, src *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey(src.SeriesID, src.EpisodeID, src.SourceID)
	if _, ok := s.series[src.SeriesID]; !ok {
		return writeErr("save_source", key, models.ErrNotFound)
	}
	if _, ok := s.sources[key]; ok {
		return writeErr("save_source", key, models.ErrDuplicate)
	}
	if src.CrawledAt.IsZero() {
		src.CrawledAt = nowUTC()
	}
	s.sources[key] = *src
	return nil
}

// ListIncompleteSeries 未完成的剧集,按首次写入顺序
func (s *MemoryStore) ListIncompleteSeries(context.Context) ([]*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Series
	for _, id := range s.order {
		sr := s.series[id]
		if !s.progressLocked(sr).Complete() {
			out = append(out, &sr)
		}
	}
	return out, nil
}

// Stats 汇总统计
func (s *MemoryStore) Stats(context.Context) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st models.StoreStats
	for _, e := range s.episodes {
		st.EpisodeCount++
		if e.Resolved() {
			st.ResolvedEpisodes++
		}
	}
	for _, src := range s.sources {
		st.SourceCount++
		if src.ResolvedURL != "" {
			st.ResolvedSources++
		}
	}
	for _, sr := range s.series {
		st.Series = append(st.Series, s.progressLocked(sr))
	}
	sort.Slice(st.Series, func(i, j int) bool { return st.Series[i].SeriesID < st.Series[j].SeriesID })
	tallySeries(&st)
	return st, nil
}

// Flush 只记录调用次数
func (s *MemoryStore) Flush(context.Context) error {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
	return nil
}

// Flushes Flush被调用的次数
func (s *MemoryStore) Flushes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flushes
}

// Episode 读取分集(测试使用)
func (s *MemoryStore) Episode(seriesID, episodeID string) (models.Episode, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.episodes[episodeKey(seriesID, episodeID)]
	return e, ok
}

// Close 无操作
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) progressLocked(sr models.Series) models.SeriesProgress {
	p := models.SeriesProgress{
		SeriesID:     sr.SeriesID,
		Title:        sr.Title,
		EpisodeCount: sr.EpisodeCount,
	}
	for _, e := range s.episodes {
		if e.SeriesID == sr.SeriesID && e.Resolved() {
			p.Resolved++
		}
	}
	return p
}
