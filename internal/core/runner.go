package core

import (
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// Crawl 从分类列表页开始完整运行
func (rc *RunContext) Crawl(ctx context.Context, categories []string) (*models.RunReport, error) {
	if err := ValidateCategories(categories); err != nil {
		return nil, err
	}
	rc.Backoff.Bind(ctx)

	orch := NewOrchestrator(OrchestratorConfig{
		MaxPages:       rc.Config.Crawl.MaxPages,
		ListingWorkers: rc.Config.Crawl.ListingWorkers,
	}, rc.Fetcher, rc.Adapter)
	items := orch.Discover(ctx, categories)
	return rc.execute(ctx, categories, items)
}

// Resume 只处理存储中未完成的剧集, 不再扫描列表页
func (rc *RunContext) Resume(ctx context.Context) (*models.RunReport, error) {
	rc.Backoff.Bind(ctx)

	pending, err := rc.Store.ListIncompleteSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取未完成剧集失败: %w", err)
	}
	items := make([]models.Item, 0, len(pending))
	for _, s := range pending {
		items = append(items, models.Item{SeriesID: s.SeriesID, Title: s.Title, URL: s.SourceURL, Category: s.Category})
	}
	utils.Infof("🔁 待恢复剧集: %d", len(items))
	return rc.execute(ctx, nil, items)
}

func (rc *RunContext) execute(ctx context.Context, categories []string, items []models.Item) (*models.RunReport, error) {
	start := time.Now()
	rc.Stats.SeriesDiscovered.Add(int64(len(items)))

	gov := NewGovernor(GovernorConfig{
		BatchSize:     rc.Config.Crawl.BatchSize,
		MemoryLimitMB: rc.Config.Crawl.MemoryLimitMB,
		BatchDelay:    time.Duration(rc.Config.Crawl.BatchDelaySec) * time.Second,
		ShowProgress:  rc.ShowProgress,
	}, rc.SeriesScheduler(), rc.Store, rc.Monitor)
	results := gov.Run(ctx, items)

	report := &models.RunReport{
		RunID:       rc.RunID,
		Mode:        rc.Mode,
		Categories:  categories,
		StartTime:   start,
		EndTime:     time.Now(),
		Interrupted: ctx.Err() != nil,
		Stats:       rc.Stats.Snapshot(),
		Failures:    rc.Backoff.Totals(),
	}
	report.Duration = report.EndTime.Sub(start).Seconds()
	report.Recommendation = utils.Recommendation(report.DominantCategory())
	for _, r := range results {
		if !r.Done() && r.Status != models.SeriesStatusNoPattern {
			report.IncompleteSeries = append(report.IncompleteSeries, r.SeriesID)
		}
	}

	st, err := rc.Store.Stats(context.WithoutCancel(ctx))
	if err != nil {
		utils.Warnf("读取存储统计失败: %v", err)
	} else {
		report.Store = st
	}

	if path, err := utils.NewReporter(rc.Config.Output.ReportDir).SaveRunReport(report); err != nil {
		utils.Warnf("保存运行报告失败: %v", err)
	} else {
		utils.Infof("📄 运行报告: %s", path)
	}
	utils.PrintSummary(rc.Out, report)

	if n := len(report.IncompleteSeries); n > 0 {
		return report, fmt.Errorf("%d 个剧集未完成: %w", n, models.ErrPartialCompletion)
	}
	return report, nil
}
