package models

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/google/uuid"
)

var seriesIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// ValidateSeriesID 剧集ID必须非空且只包含字母数字
func ValidateSeriesID(id string) error {
	if id == "" {
		return fmt.Errorf("剧集ID不能为空")
	}
	if !seriesIDPattern.MatchString(id) {
		return fmt.Errorf("剧集ID包含非法字符: %q", id)
	}
	return nil
}

// NewRunID 生成运行ID
func NewRunID() string {
	return uuid.New().String()
}
