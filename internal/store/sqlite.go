package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"

	// 注册 sqlite3 驱动
	_ "github.com/mattn/go-sqlite3"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore 基于SQLite的存储
// 只使用一个连接,所有写入天然串行
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 打开(或创建)数据库文件并执行迁移
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "yatucrawl.db"
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	utils.Infof("💾 数据库已就绪: %s", path)
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := httpfs.New(http.FS(migrationsFS), "migrations")
	if err != nil {
		return fmt.Errorf("创建迁移源失败: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("创建迁移驱动失败: %w", err)
	}

	m, err := migrate.NewWithInstance("httpfs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("创建迁移实例失败: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("执行数据库迁移失败: %w", err)
	}
	utils.Debug("数据库迁移完成")
	return nil
}

// UpsertSeries 插入或更新剧集
func (s *SQLiteStore) UpsertSeries(ctx context.Context, series *models.Series) error {
	stampSeries(series)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO series (series_id, title, source_url, category, description, director, year, language,
                    episode_count, detail_html, crawled_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(series_id) DO UPDATE SET
    title         = CASE WHEN excluded.title <> '' THEN excluded.title ELSE series.title END,
    source_url    = CASE WHEN excluded.source_url <> '' THEN excluded.source_url ELSE series.source_url END,
    category      = CASE WHEN excluded.category <> '' THEN excluded.category ELSE series.category END,
    description   = excluded.description,
    director      = excluded.director,
    year          = excluded.year,
    language      = excluded.language,
    episode_count = excluded.episode_count,
    detail_html   = CASE WHEN excluded.detail_html <> '' THEN excluded.detail_html ELSE series.detail_html END,
    updated_at    = excluded.updated_at`,
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
func (s *SQLiteStore) GetSeries(ctx context.Context, seriesID string) (*models.Series, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT series_id, title, source_url, category, description, director, year, language,
       episode_count, detail_html, crawled_at, updated_at
FROM series WHERE series_id = ?`, seriesID)

	var out models.Series
	err := row.Scan(&out.SeriesID, &out.Title, &out.SourceURL, &out.Category,
		&out.Description, &out.Director, &out.Year, &out.Language,
		&out.EpisodeCount, &out.DetailHTML, &out.CrawledAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取剧集 %s 失败: %w", seriesID, err)
	}
	return &out, nil
}

// IsSeriesComplete 剧集是否已全部解析
func (s *SQLiteStore) IsSeriesComplete(ctx context.Context, seriesID string) (bool, error) {
	var complete bool
	err := s.db.QueryRowContext(ctx, `
SELECT s.episode_count > 0 AND
       (SELECT COUNT(*) FROM episodes e WHERE e.series_id = s.series_id AND e.resolved_url IS NOT NULL) >= s.episode_count
FROM series s WHERE s.series_id = ?`, seriesID).Scan(&complete)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询剧集 %s 完成状态失败: %w", seriesID, err)
	}
	return complete, nil
}

// IsEpisodeResolved 分集是否已解析
func (s *SQLiteStore) IsEpisodeResolved(ctx context.Context, seriesID, episodeID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM episodes
WHERE series_id = ? AND episode_id = ? AND resolved_url IS NOT NULL`, seriesID, episodeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("查询分集 %s 失败: %w", episodeKey(seriesID, episodeID), err)
	}
	return n > 0, nil
}

// SaveEpisode 写入分集
func (s *SQLiteStore) SaveEpisode(ctx context.Context, e *models.Episode) error {
	if e.CrawledAt.IsZero() {
		e.CrawledAt = nowUTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO episodes (series_id, episode_id, episode_number, source_line_id, source_url, resolved_url, note, crawled_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(series_id, episode_id) DO UPDATE SET
    episode_number = excluded.episode_number,
    source_line_id = excluded.source_line_id,
    source_url     = excluded.source_url,
    resolved_url   = excluded.resolved_url,
    note           = excluded.note,
    crawled_at     = excluded.crawled_at
WHERE episodes.resolved_url IS NULL`,
		e.SeriesID, e.EpisodeID, e.EpisodeNumber, e.SourceLineID, e.SourceURL,
		nullString(e.ResolvedURL), e.Note, e.CrawledAt,
	)
	key := episodeKey(e.SeriesID, e.EpisodeID)
	if err != nil {
		return writeErr("save_episode", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return writeErr("save_episode", key, models.ErrDuplicate)
	}
	return nil
}

// HasSource 来源是否已尝试
func (s *SQLiteStore) HasSource(ctx context.Context, seriesID, episodeID, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM sources WHERE series_id = ? AND episode_id = ? AND source_id = ?`,
		seriesID, episodeID, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("查询来源 %s 失败: %w", sourceKey(seriesID, episodeID, sourceID), err)
	}
	return n > 0, nil
}

// SaveSource 写入来源尝试记录
func (s *SQLiteStore) SaveSource(ctx context.Context, src *models.Source) error {
	if src.CrawledAt.IsZero() {
		src.CrawledAt = nowUTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sources (series_id, episode_id, source_id, source_name, candidate_url, resolved_url, crawled_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(series_id, episode_id, source_id) DO NOTHING`,
		src.SeriesID, src.EpisodeID, src.SourceID, src.SourceName, src.CandidateURL,
		nullString(src.ResolvedURL), src.CrawledAt,
	)
	key := sourceKey(src.SeriesID, src.EpisodeID, src.SourceID)
	if err != nil {
		return writeErr("save_source", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return writeErr("save_source", key, models.ErrDuplicate)
	}
	return nil
}

// ListIncompleteSeries 未完成的剧集,按首次抓取时间排序
func (s *SQLiteStore) ListIncompleteSeries(ctx context.Context) ([]*models.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
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
func (s *SQLiteStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var st models.StoreStats

	err := s.db.QueryRowContext(ctx, `
SELECT (SELECT COUNT(*) FROM episodes),
       (SELECT COUNT(*) FROM episodes WHERE resolved_url IS NOT NULL),
       (SELECT COUNT(*) FROM sources),
       (SELECT COUNT(*) FROM sources WHERE resolved_url IS NOT NULL)`).
		Scan(&st.EpisodeCount, &st.ResolvedEpisodes, &st.SourceCount, &st.ResolvedSources)
	if err != nil {
		return st, fmt.Errorf("统计分集失败: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT s.series_id, s.title, s.episode_count, COUNT(e.resolved_url)
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

// Flush 执行WAL检查点
func (s *SQLiteStore) Flush(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("WAL检查点失败: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// tallySeries 由每剧集进度汇总剧集数量
func tallySeries(st *models.StoreStats) {
	st.SeriesCount = len(st.Series)
	st.CompleteSeries = 0
	for _, p := range st.Series {
		if p.Complete() {
			st.CompleteSeries++
		}
	}
}
