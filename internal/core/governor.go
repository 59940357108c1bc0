package core

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// BatchRunner 处理一批剧集, 由 scheduler.SeriesScheduler 实现
type BatchRunner interface {
	Run(ctx context.Context, items []models.Item) []models.SeriesResult
}

// Flusher 批次边界落盘
type Flusher interface {
	Flush(ctx context.Context) error
}

// MemorySampler 进程内存采样, 由 crawlers.ResourceMonitor 实现
type MemorySampler interface {
	RSSMB() float64
}

// GovernorConfig 批次配置
type GovernorConfig struct {
	BatchSize     int // <=0 表示全部放在一个批次
	MemoryLimitMB int // <=0 不检查
	BatchDelay    time.Duration
	ShowProgress  bool
}

// Governor 分批执行并在批次之间回收内存
type Governor struct {
	cfg     GovernorConfig
	runner  BatchRunner
	flusher Flusher
	monitor MemorySampler
	sleep   func(ctx context.Context, d time.Duration)

	reclaims      atomic.Int64
	extraReclaims atomic.Int64
}

// NewGovernor 创建批次控制器, monitor 可为nil
func NewGovernor(cfg GovernorConfig, runner BatchRunner, flusher Flusher, monitor MemorySampler) *Governor {
	return &Governor{
		cfg:     cfg,
		runner:  runner,
		flusher: flusher,
		monitor: monitor,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Batches 按批次大小切分
func Batches(items []models.Item, size int) [][]models.Item {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]models.Item{items}
	}
	out := make([][]models.Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// Run 依次执行各批次, 返回与输入顺序一致的结果
// 中断后剩余批次不再提交, 其结果为 cancelled
func (g *Governor) Run(ctx context.Context, items []models.Item) []models.SeriesResult {
	batches := Batches(items, g.cfg.BatchSize)
	results := make([]models.SeriesResult, 0, len(items))
	utils.Infof("📦 共 %d 个剧集, 分 %d 批处理", len(items), len(batches))

	var bar *progressbar.ProgressBar
	if g.cfg.ShowProgress && len(items) > 0 {
		bar = utils.NewProgressBar(len(items), "剧集")
	}

	for i, batch := range batches {
		if ctx.Err() != nil {
			utils.Warnf("⚠️  收到中断信号, 跳过剩余 %d 个批次", len(batches)-i)
			for _, it := range items[len(results):] {
				results = append(results, models.SeriesResult{SeriesID: it.SeriesID, Status: models.SeriesStatusCancelled})
			}
			break
		}

		utils.Debugf("批次 %d/%d: %d 个剧集", i+1, len(batches), len(batch))
		results = append(results, g.runner.Run(ctx, batch)...)
		if bar != nil {
			_ = bar.Add(len(batch))
		}

		g.afterBatch(ctx)

		if i < len(batches)-1 {
			g.sleep(ctx, g.cfg.BatchDelay)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return results
}

// afterBatch 落盘, 回收内存, 超过水位线时再回收一次
func (g *Governor) afterBatch(ctx context.Context) {
	if g.flusher != nil {
		if err := g.flusher.Flush(context.WithoutCancel(ctx)); err != nil {
			utils.Warnf("批次落盘失败: %v", err)
		}
	}

	reclaim()
	g.reclaims.Add(1)

	if g.monitor == nil || g.cfg.MemoryLimitMB <= 0 {
		return
	}
	rss := g.monitor.RSSMB()
	if rss <= float64(g.cfg.MemoryLimitMB) {
		utils.Debugf("内存: %.1f MB", rss)
		return
	}
	utils.Warnf("⚠️  内存 %.1f MB 超过水位线 %d MB, 再次回收", rss, g.cfg.MemoryLimitMB)
	reclaim()
	g.extraReclaims.Add(1)
}

func reclaim() {
	runtime.GC()
	debug.FreeOSMemory()
}

// Reclaims 已执行的批次回收次数
func (g *Governor) Reclaims() int64 {
	return g.reclaims.Load()
}

// ExtraReclaims 因超过水位线额外回收的次数
func (g *Governor) ExtraReclaims() int64 {
	return g.extraReclaims.Load()
}
