package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

// ForbiddenHeaders 禁止用户配置的头部 (由HTTP客户端管理)
var ForbiddenHeaders = []string{
	"Host",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
}

var (
	headerNameRegex  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	headerValueRegex = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// ValidateHeader 验证头部名称和值 (RFC 7230)
func ValidateHeader(name, value string) error {
	for _, h := range ForbiddenHeaders {
		if strings.EqualFold(h, name) {
			return &models.ValidationError{
				Field:      "name",
				HeaderName: name,
				Reason:     "此头部由HTTP客户端自动管理,不允许自定义",
				Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
			}
		}
	}

	if name == "" || !headerNameRegex.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称为空或包含非法字符",
			Suggestion: "使用字母、数字和连字符 (如 'User-Agent', 'Cookie')",
		}
	}

	if len(value) > MaxHeaderValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), MaxHeaderValueLength),
		}
	}

	if !headerValueRegex.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}
	return nil
}
