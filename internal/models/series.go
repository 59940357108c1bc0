package models

import (
	"fmt"
	"time"
)

// Series 剧集(一个可发现的内容条目)
// 注意: Series记录存在只表示列表页+详情页抓取成功,不代表分集已解析完成
type Series struct {
	SeriesID  string `json:"series_id"`  // 外部稳定ID (非空,字母数字)
	Title     string `json:"title"`      // 标题
	SourceURL string `json:"source_url"` // 详情页URL
	Category  string `json:"category"`   // 所属分类

	// 元数据
	Description string `json:"description,omitempty"`
	Director    string `json:"director,omitempty"`
	Year        string `json:"year,omitempty"`
	Language    string `json:"language,omitempty"`

	EpisodeCount int       `json:"episode_count"` // 推断出的分集总数
	CrawledAt    time.Time `json:"crawled_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// DetailHTML 详情页快照,resume时无需重新抓取
	DetailHTML string `json:"-"`
}

// ApplyMetadata 合并适配器提取的元数据(空值不覆盖)
func (s *Series) ApplyMetadata(meta SeriesMetadata) {
	if meta.Title != "" && s.Title == "" {
		s.Title = meta.Title
	}
	if meta.Description != "" {
		s.Description = meta.Description
	}
	if meta.Director != "" {
		s.Director = meta.Director
	}
	if meta.Year != "" {
		s.Year = meta.Year
	}
	if meta.Language != "" {
		s.Language = meta.Language
	}
}

// SeriesMetadata 详情页上的自由文本元数据
type SeriesMetadata struct {
	Title       string
	Description string
	Director    string
	Year        string
	Language    string
}

// Episode 分集
// ResolvedURL为空表示本次尝试失败,下次运行会重新尝试
type Episode struct {
	SeriesID      string    `json:"series_id"`
	EpisodeID     string    `json:"episode_id"`     // 显示标签,如 "01"
	EpisodeNumber int       `json:"episode_number"` // 排序和缺口检测用
	SourceLineID  int       `json:"source_line_id"` // 生成URL时使用的线路
	SourceURL     string    `json:"source_url"`     // 待解析的播放页
	ResolvedURL   string    `json:"resolved_url,omitempty"`
	Note          string    `json:"note,omitempty"` // 解析诊断信息
	CrawledAt     time.Time `json:"crawled_at"`
}

// Resolved 是否已解析出播放地址
func (e *Episode) Resolved() bool {
	return e.ResolvedURL != ""
}

// EpisodeLabel 生成分集显示标签(两位补零)
func EpisodeLabel(number int) string {
	return fmt.Sprintf("%02d", number)
}

// Source 分集的备选解析来源(镜像)
type Source struct {
	SeriesID     string    `json:"series_id"`
	EpisodeID    string    `json:"episode_id"`
	SourceID     string    `json:"source_id"` // direct_extract / external_N
	SourceName   string    `json:"source_name"`
	CandidateURL string    `json:"candidate_url"`
	ResolvedURL  string    `json:"resolved_url,omitempty"`
	CrawledAt    time.Time `json:"crawled_at"`
}

// SourceIDDirect 直接从播放页解析出的来源
const SourceIDDirect = "direct_extract"

// ExternalSourceID 第n个外部镜像的来源ID
func ExternalSourceID(n int) string {
	return fmt.Sprintf("external_%d", n)
}

// Item 列表页上发现的候选条目
type Item struct {
	SeriesID string
	Title    string
	URL      string
	Category string
}

// EpisodeLink 详情页上采样到的分集链接
type EpisodeLink struct {
	Label  string
	RawURL string
}

// SourceLink 播放页上发现的外部镜像链接
type SourceLink struct {
	Name string
	URL  string
}
