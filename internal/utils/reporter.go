package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// recommendations 按主要失败类别给出的处理建议
var recommendations = map[models.ErrorCategory]string{
	models.CategoryNetwork:   "网络不稳定: 检查网络连接或代理,稍后执行 resume",
	models.CategoryAuth:      "遇到登录/验证墙: 在 headers.yaml 或 -H 中提供有效Cookie后执行 resume",
	models.CategoryRateLimit: "被限流: 降低 series_workers/episode_workers 或调低 fetch.rps,并增大 backoff.cooldown_sec",
	models.CategoryServer:    "站点服务端错误或维护中: 稍后执行 resume",
	models.CategoryUnknown:   "存在未分类错误: 查看 logs/yatucrawl_error.log",
}

// Recommendation 主要失败类别对应的建议,无失败返回空
func Recommendation(c models.ErrorCategory) string {
	return recommendations[c]
}

// Reporter 报告生成器
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	if outputDir == "" {
		outputDir = "reports"
	}
	return &Reporter{outputDir: outputDir}
}

// SaveRunReport 写入 run_<id>.json,返回文件路径
func (r *Reporter) SaveRunReport(report *models.RunReport) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}

	path := filepath.Join(r.outputDir, "run_"+report.RunID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return path, nil
}

// PrintSummary 输出运行摘要
func PrintSummary(w io.Writer, report *models.RunReport) {
	s := report.Stats
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "📊 运行摘要 (%s, 耗时 %.1fs)\n", report.Mode, report.Duration)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "剧集: 发现 %d | 完成 %d | 跳过 %d | 部分 %d | 无模式 %d | 失败 %d\n",
		s.SeriesDiscovered, s.SeriesCompleted, s.SeriesSkipped, s.SeriesPartial, s.SeriesNoPattern, s.SeriesFailed)
	fmt.Fprintf(w, "分集: 解析 %d | 失败 %d | 跳过 %d | 备用来源尝试 %d\n",
		s.EpisodesResolved, s.EpisodesFailed, s.EpisodesSkipped, s.SourcesAttempted)
	if s.StoreErrors > 0 {
		fmt.Fprintf(w, "存储错误: %d\n", s.StoreErrors)
	}

	fmt.Fprint(w, "失败分类:")
	for _, c := range models.AllCategories {
		fmt.Fprintf(w, " %s=%d", c, report.Failures[c])
	}
	fmt.Fprintln(w)

	if report.Interrupted {
		fmt.Fprintln(w, "⚠️  运行被中断,执行 resume 继续")
	}
	if report.Recommendation != "" {
		fmt.Fprintf(w, "💡 建议: %s\n", report.Recommendation)
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// FormatStats 格式化存储统计, verbose 时附带每个剧集的进度
func FormatStats(st models.StoreStats, verbose bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "series_count=%d\n", st.SeriesCount)
	fmt.Fprintf(&b, "complete_series=%d\n", st.CompleteSeries)
	fmt.Fprintf(&b, "episode_count=%d\n", st.EpisodeCount)
	fmt.Fprintf(&b, "resolved_episodes=%d\n", st.ResolvedEpisodes)
	fmt.Fprintf(&b, "source_count=%d\n", st.SourceCount)
	fmt.Fprintf(&b, "resolved_sources=%d\n", st.ResolvedSources)
	if verbose {
		for _, p := range st.Series {
			mark := " "
			if p.Complete() {
				mark = "✓"
			}
			fmt.Fprintf(&b, "%s %s\t%d/%d\t%s\n", mark, p.SeriesID, p.Resolved, p.EpisodeCount, p.Title)
		}
	}
	return b.String()
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
