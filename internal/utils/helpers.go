package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
)

// PagePlaceholder 分类URL模板中的页码占位符
const PagePlaceholder = "{page}"

// ReadCategoriesFromFile 从文件中读取分类URL模板,每行一个
func ReadCategoriesFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开分类文件失败: %w", err)
	}
	defer file.Close()

	categories := make([]string, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := ValidateCategoryTemplate(line); err != nil {
			Warnf("跳过无效分类 (行 %d): %s - %v", lineNum, line, err)
			continue
		}

		categories = append(categories, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取分类文件失败: %w", err)
	}

	if len(categories) == 0 {
		return nil, fmt.Errorf("分类文件中没有有效的URL模板")
	}

	Infof("从文件加载了 %d 个分类", len(categories))
	return categories, nil
}

// ValidateCategoryTemplate 分类模板必须包含页码占位符,且替换后是合法URL
func ValidateCategoryTemplate(tpl string) error {
	if !strings.Contains(tpl, PagePlaceholder) {
		return fmt.Errorf("分类URL缺少 %s 占位符", PagePlaceholder)
	}
	return models.ValidateURL(ExpandPage(tpl, 1))
}

// ExpandPage 将模板中的页码占位符替换为具体页码
func ExpandPage(tpl string, page int) string {
	return strings.ReplaceAll(tpl, PagePlaceholder, fmt.Sprint(page))
}
