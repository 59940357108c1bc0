// Package store 持久化剧集、分集和解析来源
//
// 所有写入都以唯一键为准做幂等处理,调度器在每个工作单元开始前查询存储,
// 已完成的单元会被跳过。
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// Store 持久化接口
type Store interface {
	// UpsertSeries 插入或更新剧集,不会删除已有分集
	UpsertSeries(ctx context.Context, s *models.Series) error
	// GetSeries 读取剧集,不存在时返回 models.ErrNotFound
	GetSeries(ctx context.Context, seriesID string) (*models.Series, error)
	// IsSeriesComplete 剧集存在且已解析分集数达到 EpisodeCount
	IsSeriesComplete(ctx context.Context, seriesID string) (bool, error)

	// IsEpisodeResolved 是否存在已解析的分集记录
	IsEpisodeResolved(ctx context.Context, seriesID, episodeID string) (bool, error)
	// SaveEpisode 写入分集; 已解析的记录不会被覆盖,此时返回 models.ErrDuplicate
	SaveEpisode(ctx context.Context, e *models.Episode) error

	// HasSource 来源是否已经尝试过(无论成功与否)
	HasSource(ctx context.Context, seriesID, episodeID, sourceID string) (bool, error)
	// SaveSource 写入来源尝试记录; 已存在时返回 models.ErrDuplicate
	SaveSource(ctx context.Context, s *models.Source) error

	// ListIncompleteSeries 列出未完成的剧集(resume使用)
	ListIncompleteSeries(ctx context.Context) ([]*models.Series, error)
	// Stats 汇总统计,包含每个剧集的进度
	Stats(ctx context.Context) (models.StoreStats, error)

	// Flush 将缓冲写入落盘(批次边界调用)
	Flush(ctx context.Context) error
	Close() error
}

// Config 存储配置
type Config struct {
	Driver string // sqlite | postgres | memory
	Path   string // SQLite文件路径
	DSN    string // Postgres连接串
}

// Open 根据驱动创建存储
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg.Path)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, PostgresConfig{DSN: cfg.DSN})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

func writeErr(op, key string, err error) error {
	return &models.StoreWriteError{Op: op, Key: key, Err: err}
}

func episodeKey(seriesID, episodeID string) string {
	return seriesID + "/" + episodeID
}

func sourceKey(seriesID, episodeID, sourceID string) string {
	return seriesID + "/" + episodeID + "/" + sourceID
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// stampSeries 补齐时间戳
func stampSeries(s *models.Series) {
	now := nowUTC()
	if s.CrawledAt.IsZero() {
		s.CrawledAt = now
	}
	s.UpdatedAt = now
}
