package crawlers

import (
	"context"
	"errors"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// GuardedFetcher 每次抓取都经过分类和退避
type GuardedFetcher struct {
	next       Fetcher
	classifier *Classifier
	backoff    *BackoffController
}

// NewGuardedFetcher 创建受保护的抓取器
func NewGuardedFetcher(next Fetcher, classifier *Classifier, backoff *BackoffController) *GuardedFetcher {
	return &GuardedFetcher{next: next, classifier: classifier, backoff: backoff}
}

// Fetch 抓取并分类, 失败返回 *models.FetchError
func (g *GuardedFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	g.backoff.Wait(ctx)

	page, err := g.next.Fetch(ctx, url)
	if errors.Is(err, context.Canceled) {
		// 主动取消不是站点故障, 不计入失败
		return page, err
	}
	if cerr := g.classifier.Classify(url, page, err); cerr != nil {
		cat := models.CategoryOf(cerr)
		utils.Logger.Debug().Str("url", url).Str("category", string(cat)).Err(cerr).Msg("抓取失败")
		g.backoff.RecordFailure(cat)
		return page, cerr
	}

	g.backoff.RecordSuccess()
	return page, nil
}
