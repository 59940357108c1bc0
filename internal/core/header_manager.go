package core

import (
	"net/http"
	"sync"

	"github.com/RecoveryAshes/yatucrawl/internal/config"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// DefaultUserAgent 默认User-Agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// HeaderManager 合并默认头部、headers.yaml 和命令行 -H
// 实现 models.HeaderProvider, 配置只加载和校验一次
type HeaderManager struct {
	defaults http.Header
	config   http.Header
	cli      http.Header

	loader   *config.HeaderConfigLoader
	redactor *utils.HeaderRedactor

	once    sync.Once
	merged  http.Header
	loadErr error
}

// NewHeaderManager 创建头部管理器
// userAgent 为空时使用 DefaultUserAgent
func NewHeaderManager(configFile, userAgent string, cliHeaders []string) (*HeaderManager, error) {
	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HeaderManager{
		defaults: http.Header{
			"User-Agent":      []string{userAgent},
			"Accept":          []string{"text/html,application/xhtml+xml,*/*;q=0.8"},
			"Accept-Language": []string{"zh-CN,zh;q=0.9"},
			"Accept-Encoding": []string{"gzip, deflate, br"},
		},
		cli:      cli,
		loader:   config.NewHeaderConfigLoader(configFile),
		redactor: utils.NewHeaderRedactor(),
	}, nil
}

func (hm *HeaderManager) load() {
	cfg, err := hm.loader.LoadConfig()
	if err != nil {
		hm.loadErr = err
		return
	}
	hm.config = make(http.Header)
	for name, value := range cfg.Headers {
		hm.config.Set(name, value)
	}

	for _, h := range []http.Header{hm.defaults, hm.config, hm.cli} {
		if err := validateHeaders(h); err != nil {
			hm.loadErr = err
			return
		}
	}

	merged := make(http.Header)
	for _, h := range []http.Header{hm.defaults, hm.config, hm.cli} {
		for name, values := range h {
			merged[name] = values
		}
	}
	hm.merged = merged
	utils.Debugf("HTTP头部: %s", hm.redactor.RedactToString(merged))
}

func validateHeaders(h http.Header) error {
	for name, values := range h {
		for _, v := range values {
			if err := utils.ValidateHeader(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate 加载并校验全部头部, 启动时调用以便尽早报错
func (hm *HeaderManager) Validate() error {
	hm.once.Do(hm.load)
	return hm.loadErr
}

// GetHeaders 实现 models.HeaderProvider, 返回副本
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.merged.Clone(), nil
}

// SafeString 脱敏后的头部(日志使用)
func (hm *HeaderManager) SafeString() string {
	if err := hm.Validate(); err != nil {
		return ""
	}
	return hm.redactor.RedactToString(hm.merged)
}
