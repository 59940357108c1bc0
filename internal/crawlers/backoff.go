package crawlers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// Pauser 冷却等待
type Pauser interface {
	Pause(ctx context.Context, d time.Duration)
}

type timerPauser struct{}

// Pause 等待d或ctx结束
func (timerPauser) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Threshold int           // 连续失败阈值
	Cooldown  time.Duration // 冷却时长
}

// BackoffController 连续失败计数与冷却
// 计数在所有worker间共享,任一成功即清零;达到阈值后所有抓取暂停一个冷却期,不做单次重试
type BackoffController struct {
	threshold int64
	cooldown  time.Duration
	pauser    Pauser
	now       func() time.Time

	consecutive atomic.Int64
	cooldowns   atomic.Int64
	totals      map[models.ErrorCategory]*atomic.Int64

	mu          sync.Mutex
	pausedUntil time.Time
	runCtx      context.Context
}

// NewBackoffController 创建退避控制器
func NewBackoffController(cfg BackoffConfig) *BackoffController {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	totals := make(map[models.ErrorCategory]*atomic.Int64, len(models.AllCategories))
	for _, c := range models.AllCategories {
		totals[c] = new(atomic.Int64)
	}
	return &BackoffController{
		threshold: int64(cfg.Threshold),
		cooldown:  cfg.Cooldown,
		pauser:    timerPauser{},
		now:       time.Now,
		totals:    totals,
	}
}

// WithPauser 替换等待实现(测试使用)
func (b *BackoffController) WithPauser(p Pauser) *BackoffController {
	b.pauser = p
	return b
}

// Bind 绑定运行级context, 中断信号会立即结束冷却
func (b *BackoffController) Bind(ctx context.Context) {
	b.mu.Lock()
	b.runCtx = ctx
	b.mu.Unlock()
}

// RecordSuccess 成功清零连续失败计数
func (b *BackoffController) RecordSuccess() {
	b.consecutive.Store(0)
}

// RecordFailure 记录一次失败, 达到阈值时开启冷却并返回true
func (b *BackoffController) RecordFailure(cat models.ErrorCategory) bool {
	if t, ok := b.totals[cat]; ok {
		t.Add(1)
	} else {
		b.totals[models.CategoryUnknown].Add(1)
	}

	if b.consecutive.Add(1) < b.threshold {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// 其他worker可能已经触发过冷却并清零
	if b.consecutive.Load() < b.threshold {
		return false
	}
	b.consecutive.Store(0)
	b.cooldowns.Add(1)
	b.pausedUntil = b.now().Add(b.cooldown)
	utils.Logger.Warn().
		Str("category", string(cat)).
		Int64("threshold", b.threshold).
		Dur("cooldown", b.cooldown).
		Msg("⏸️  连续失败达到阈值,暂停抓取")
	return true
}

// Wait 冷却期内阻塞
func (b *BackoffController) Wait(ctx context.Context) {
	b.mu.Lock()
	remaining := b.pausedUntil.Sub(b.now())
	if b.runCtx != nil {
		ctx = b.runCtx
	}
	b.mu.Unlock()

	if remaining > 0 {
		b.pauser.Pause(ctx, remaining)
	}
}

// Consecutive 当前连续失败数
func (b *BackoffController) Consecutive() int64 {
	return b.consecutive.Load()
}

// Cooldowns 已触发的冷却次数
func (b *BackoffController) Cooldowns() int64 {
	return b.cooldowns.Load()
}

// Totals 各类别失败总数
func (b *BackoffController) Totals() map[models.ErrorCategory]int64 {
	out := make(map[models.ErrorCategory]int64, len(b.totals))
	for c, n := range b.totals {
		out[c] = n.Load()
	}
	return out
}
