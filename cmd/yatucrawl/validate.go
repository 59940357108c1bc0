package main

import (
	"errors"

	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

// exitCode 错误到退出码的映射
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, models.ErrPartialCompletion):
		return exitPartial
	default:
		return exitFatal
	}
}

// resolveCategories 分类来源优先级: 命令行 > 分类文件 > 配置文件
func resolveCategories(fromFlags []string, file string, fromConfig []string) ([]string, error) {
	if len(fromFlags) > 0 {
		return fromFlags, nil
	}
	if file != "" {
		return utils.ReadCategoriesFromFile(file)
	}
	return fromConfig, nil
}
