// Package config 读取 headers.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/viper"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

const (
	// DefaultConfigFile 默认配置文件路径
	DefaultConfigFile = "configs/headers.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

// HeaderConfigLoader 头部配置加载器
type HeaderConfigLoader struct {
	configPath string
}

// NewHeaderConfigLoader 创建加载器, 路径为空时使用默认路径
func NewHeaderConfigLoader(configPath string) *HeaderConfigLoader {
	if configPath == "" {
		configPath = DefaultConfigFile
	}
	return &HeaderConfigLoader{configPath: configPath}
}

// Path 配置文件路径
func (hcl *HeaderConfigLoader) Path() string {
	return hcl.configPath
}

// LoadConfig 加载并解析配置文件
// 文件不存在时返回空配置, 只使用默认头部和命令行头部
func (hcl *HeaderConfigLoader) LoadConfig() (*models.HeaderConfig, error) {
	info, err := os.Stat(hcl.configPath)
	if errors.Is(err, os.ErrNotExist) {
		utils.Debugf("未找到头部配置文件 [%s]", hcl.configPath)
		return &models.HeaderConfig{Headers: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}
	if info.Size() > MaxConfigFileSize {
		return nil, &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxConfigFileSize),
		}
	}

	v := viper.New()
	v.SetConfigFile(hcl.configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		// 文件被其他进程锁定时降级为空配置
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("配置文件被锁定 [%s], 使用默认头部", hcl.configPath)
			return &models.HeaderConfig{Headers: make(map[string]string)}, nil
		}
		return nil, &models.ConfigError{FilePath: hcl.configPath, Cause: err}
	}

	var cfg models.HeaderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &models.ConfigError{
			FilePath: hcl.configPath,
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	return &cfg, nil
}
