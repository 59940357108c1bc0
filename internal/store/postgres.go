package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

//go:embed postgres_schema.sql
var postgresSchema string

// PostgresConfig Postgres连接池配置
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxConn interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresStore 基于Postgres的存储,适合多个实例共享结果
type PostgresStore struct {
	pool pgxConn
}

// OpenPostgres 连接Postgres并确保表结构存在
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn 不能为空")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("解析postgres dsn失败: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("连接postgres失败: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	utils.Info("💾 Postgres存储已就绪")
	return s, nil
}

// NewPostgresStoreWithPool 使用已有连接池创建存储(主要用于测试)
func NewPostgresStoreWithPool(pool pgxConn) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("连接池不能为空")
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema 创建表结构(幂等)
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("创建表结构失败: %w", err)
	}
	return nil
}

// UpsertSeries 插入或更新剧集
func (s *PostgresStore) UpsertSeries(ctx context.Context, series *models.Series) error {
	stampSeries(series)
	_, err := s.pool.Exec(ctx, `
INSERT INTO series (series_id, title, source_url, category, description, director, year, language,
                    episode_count, detail_html, crawled_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (series_id) DO UPDATE SET
    title         = COALESCE(NULLIF(EXCLUDED.title, ''), series.title),
    source_url    = COALESCE(NULLIF(EXCLUDED.source_url, ''), series.source_url),
    category      = COALESCE(NULLIF(EXCLUDED.category, ''), series.category),
    description   = EXCLUDED.description,
    director      = EXCLUDED.director,
    year          = EXCLUDED.year,
    language      = EXCLUDED.language,
    episode_count = EXCLUDED.episode_count,
    detail_html   = COALESCE(NULLIF(EXCLUDED.detail_html, ''), series.detail_html),
    updated_at    = EXCLUDED.updated_at`,
		series.SeriesID, series.Title, series.SourceURL, series.Category,
		series.Description, series.Director, series.Year, series.Language,
		series.EpisodeCount, series.DetailHTML, series.CrawledAt, series.UpdatedAt,
	)
	if err != nil {
		return writeErr("upsert_series", series.SeriesID, err)
	}
	return nil
}

// GetSeries 读取剧集
func (s *PostgresStore) GetSeries(ctx context.Context, seriesID string) (*models.Series, error) {
	var out models.Series
	err := s.pool.QueryRow(ctx, `
SELECT series_id, title, source_url, category, description, director, year, language,
       episode_count, detail_html, crawled_at, updated_at
FROM series WHERE series_id = $1`, seriesID).Scan(
		&out.SeriesID, &out.Title, &out.SourceURL, &out.Category,
		&out.Description, &out.Director, &out.Year, &out.Language,
		&out.EpisodeCount, &out.DetailHTML, &out.CrawledAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取剧集 %s 失败: %w", seriesID, err)
	}
	return &out, nil
}

// IsSeriesComplete 剧集是否已全部解析
func (s *PostgresStore) IsSeriesComplete(ctx context.Context, seriesID string) (bool, error) {
	var complete bool
	err := s.pool.QueryRow(ctx, `
SELECT s.episode_count > 0 AND
       (SELECT COUNT(*) FROM episodes e WHERE e.series_id = s.series_id AND e.resolved_url IS NOT NULL) >= s.episode_count
FROM series s WHERE s.series_id = $1`, seriesID).Scan(&complete)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询剧集 %s 完成状态失败: %w", seriesID, err)
	}
	return complete, nil
}

// IsEpisodeResolved 分集是否已解析
func (s *PostgresStore) IsEpisodeResolved(ctx context.Context, seriesID, episodeID string) (bool, error) {
	var resolved bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM episodes WHERE series_id = $1 AND episode_id = $2 AND resolved_url IS NOT NULL)`,
		seriesID, episodeID).Scan(&resolved)
	if err != nil {
		return false, fmt.Errorf("查询分集 %s 失败: %w", episodeKey(seriesID, episodeID), err)
	}
	return resolved, nil
}

// SaveEpisode 写入分集
func (s *PostgresStore) SaveEpisode(ctx context.Context, e *models.Episode) error {
	if e.CrawledAt.IsZero() {
		e.CrawledAt = nowUTC()
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO episodes (series_id, episode_id, episode_number, source_line_id, source_url, resolved_url, note, crawled_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (series_id, episode_id) DO UPDATE SET
    episode_number = EXCLUDED.episode_number,
    source_line_id = EXCLUDED.source_line_id,
    source_url     = EXCLUDED.source_url,
    resolved_url   = EXCLUDED.resolved_url,
    note           = EXCLUDED.note,
    crawled_at     = EXCLUDED.crawled_at
WHERE episodes.resolved_url IS NULL`,
		e.SeriesID, e.EpisodeID, e.EpisodeNumber, e.SourceLineID, e.SourceURL,
		optional(e.ResolvedURL), e.Note, e.CrawledAt,
	)
	key := episodeKey(e.SeriesID, e.EpisodeID)
	if err != nil {
		return writeErr("save_episode", key, err)
	}
	if tag.RowsAffected() == 0 {
		return writeErr("save_episode", key, models.ErrDuplicate)
	}
	return nil
}

// HasSource 来源是否已尝试
func (s *PostgresStore) HasSource(ctx context.Context, seriesID, episodeID, sourceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM sources WHERE series_id = $1 AND episode_id = $2 AND source_id = $3)`,
		seriesID, episodeID, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("查询来源 %s 失败: %w", sourceKey(seriesID, episodeID, sourceID), err)
	}
	return exists, nil
}

// SaveSource 写入来源尝试记录
func (s *PostgresStore) SaveSource(ctx context.Context, src *models.Source) error {
	if src.CrawledAt.IsZero() {
		src.CrawledAt = nowUTC()
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO sources (series_id, episode_id, source_id, source_name, candidate_url, resolved_url, crawled_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (series_id, episode_id, source_id) DO NOTHING`,
		src.SeriesID, src.EpisodeID, src.SourceID, src.SourceName, src.CandidateURL,
		optional(src.ResolvedURL), src.CrawledAt,
	)
	key := sourceKey(src.SeriesID, src.EpisodeID, src.SourceID)
	if err != nil {
		return writeErr("save_source", key, err)
	}
	if tag.RowsAffected() == 0 {
		return writeErr("save_source", key, models.ErrDuplicate)
	}
	return nil
}

// ListIncompleteSeries 未完成的剧集
func (s *PostgresStore) ListIncompleteSeries(ctx context.Context) ([]*models.Series, error) {
	rows, err := s.pool.Query(ctx, `
SELECT s.series_id, s.title, s.source_url, s.category, s.description, s.director, s.year, s.language,
       s.episode_count, s.detail_html, s.crawled_at, s.updated_at
FROM series s
WHERE s.episode_count = 0
   OR (SELECT COUNT(*) FROM episodes e WHERE e.series_id = s.series_id AND e.resolved_url IS NOT NULL) < s.episode_count
ORDER BY s.crawled_at, s.series_id`)
	if err != nil {
		return nil, fmt.Errorf("查询未完成剧集失败: %w", err)
	}
	defer rows.Close()

	var out []*models.Series
	for rows.Next() {
		var sr models.Series
		if err := rows.Scan(&sr.SeriesID, &sr.Title, &sr.SourceURL, &sr.Category,
			&sr.Description, &sr.Director, &sr.Year, &sr.Language,
			&sr.EpisodeCount, &sr.DetailHTML, &sr.CrawledAt, &sr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("读取剧集行失败: %w", err)
		}
		out = append(out, &sr)
	}
	return out, rows.Err()
}

// Stats 汇总统计
func (s *PostgresStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var st models.StoreStats
	err := s.pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM episodes)::int,
       (SELECT COUNT(*) FROM episodes WHERE resolved_url IS NOT NULL)::int,
       (SELECT COUNT(*) FROM sources)::int,
       (SELECT COUNT(*) FROM sources WHERE resolved_url IS NOT NULL)::int`).
		Scan(&st.EpisodeCount, &st.ResolvedEpisodes, &st.SourceCount, &st.ResolvedSources)
	if err != nil {
		return st, fmt.Errorf("统计分集失败: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT s.series_id, s.title, s.episode_count, COUNT(e.resolved_url)::int
FROM series s LEFT JOIN episodes e ON e.series_id = s.series_id
GROUP BY s.series_id, s.title, s.episode_count
ORDER BY s.series_id`)
	if err != nil {
		return st, fmt.Errorf("统计剧集失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.SeriesProgress
		if err := rows.Scan(&p.SeriesID, &p.Title, &p.EpisodeCount, &p.Resolved); err != nil {
			return st, fmt.Errorf("读取剧集进度失败: %w", err)
		}
		st.Series = append(st.Series, p)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	tallySeries(&st)
	return st, nil
}

// Flush 每条语句已自动提交,无需处理
func (s *PostgresStore) Flush(context.Context) error {
	return nil
}

// Close 释放连接池
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
