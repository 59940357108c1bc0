package resolver

import (
	"context"
	"fmt"

	"github.com/RecoveryAshes/yatucrawl/internal/crawlers"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// NoteNoResolution 所有策略失败时写入分集的备注
const NoteNoResolution = "no resolution"

// ChainConfig 解析链配置
type ChainConfig struct {
	IframeIDs      []string // 播放器iframe的id/name
	PlayerDomains  []string // 已知播放器域名片段
	CDNTemplates   []string // {id} 占位的CDN地址模板, 最新在前
	MaxNestedDepth int
}

// DefaultChainConfig 默认配置
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		IframeIDs:      []string{"playiframe", "player_iframe", "cciframe", "playframe"},
		MaxNestedDepth: 2,
	}
}

// Resolution 解析结果
type Resolution struct {
	URL       string
	Strategy  string
	Heuristic bool
	Page      *crawlers.Page // 播放页, 用于提取备用来源
}

// Note 写入分集的诊断备注
func (r *Resolution) Note() string {
	if r == nil || r.URL == "" {
		return NoteNoResolution
	}
	if r.Heuristic {
		return "heuristic: " + r.Strategy
	}
	return r.Strategy
}

// Chain 按顺序尝试各策略, 第一个成功即停止
type Chain struct {
	fetcher    crawlers.Fetcher
	strategies []Strategy
}

// NewChain 使用默认的五种策略
func NewChain(fetcher crawlers.Fetcher, cfg ChainConfig) *Chain {
	v := NewPlayerValidator(cfg.PlayerDomains)
	primary := []Strategy{
		NewIframeByIDStrategy(cfg.IframeIDs, v),
		NewFirstIframeStrategy(v),
		NewScriptURLStrategy(v),
	}
	strategies := append([]Strategy{}, primary...)
	strategies = append(strategies,
		NewNestedIframeStrategy(fetcher, primary, cfg.MaxNestedDepth),
		NewTokenTemplateStrategy(cfg.CDNTemplates),
	)
	return NewChainWithStrategies(fetcher, strategies...)
}

// NewChainWithStrategies 自定义策略顺序
func NewChainWithStrategies(fetcher crawlers.Fetcher, strategies ...Strategy) *Chain {
	return &Chain{fetcher: fetcher, strategies: strategies}
}

// Resolve 抓取播放页并解析
// 抓取失败返回抓取错误; 策略全部失败时返回带 Page 的结果和 models.ErrResolutionExhausted
func (c *Chain) Resolve(ctx context.Context, pageURL string) (*Resolution, error) {
	page, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(pageURL, page.Body, 0)
	if err != nil {
		return &Resolution{Page: page}, fmt.Errorf("解析播放页失败: %w", err)
	}

	res := c.ResolveDocument(ctx, doc)
	res.Page = page
	if res.URL == "" {
		return res, models.ErrResolutionExhausted
	}
	return res, nil
}

// ResolveDocument 对已解析的页面运行策略
func (c *Chain) ResolveDocument(ctx context.Context, doc *Document) *Resolution {
	for _, s := range c.strategies {
		if u, ok := s.Resolve(ctx, doc); ok {
			res := &Resolution{URL: u, Strategy: s.Name()}
			if h, isH := s.(heuristic); isH {
				res.Heuristic = h.Heuristic()
			}
			return res
		}
	}
	return &Resolution{}
}
