// Package adapter 站点相关的HTML提取规则
//
// 调度器只依赖 ContentAdapter 接口; 元数据和备用来源是可选能力,
// 通过类型断言发现。
package adapter

import "github.com/RecoveryAshes/yatucrawl/internal/models"

// ContentAdapter 站点内容适配器
type ContentAdapter interface {
	// ExtractCandidates 列表页上的剧集条目
	ExtractCandidates(html string) []models.Item
	// ExtractEpisodeSamples 详情页上可见的分集链接(可能不完整)
	ExtractEpisodeSamples(html string) []models.EpisodeLink
	// IsLastPage 列表页是否为最后一页
	IsLastPage(html string) bool
}

// MetadataExtractor 可选: 详情页元数据
type MetadataExtractor interface {
	ExtractMetadata(html string) models.SeriesMetadata
}

// SourceExtractor 可选: 播放页上的备用来源(镜像)
type SourceExtractor interface {
	ExtractSources(html string) []models.SourceLink
}
