package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogConfig(t *testing.T, level string) LogConfig {
	t.Helper()
	cfg := DefaultLogConfig()
	cfg.Level = level
	cfg.LogDir = t.TempDir()
	cfg.Compress = false
	cfg.NoConsole = true
	return cfg
}

func TestInitLogger(t *testing.T) {
	config := testLogConfig(t, "debug")
	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("测试信息日志")
	Debug("测试调试日志")

	mainLogPath := filepath.Join(config.LogDir, "yatucrawl.log")
	if _, err := os.Stat(mainLogPath); os.IsNotExist(err) {
		t.Errorf("主日志文件未创建: %s", mainLogPath)
	}
}

func TestErrorLogOnlyContainsErrors(t *testing.T) {
	config := testLogConfig(t, "info")
	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Info("普通信息-不应出现在错误日志")
	Warnf("警告: %d", 429)
	Errorf("存储写入失败: %s", "episodes")

	content, err := os.ReadFile(filepath.Join(config.LogDir, "yatucrawl_error.log"))
	if err != nil {
		t.Fatalf("读取错误日志失败: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "存储写入失败") {
		t.Error("错误日志缺少error级别消息")
	}
	if strings.Contains(text, "普通信息") || strings.Contains(text, "警告") {
		t.Errorf("错误日志包含低级别消息: %s", text)
	}

	main, err := os.ReadFile(filepath.Join(config.LogDir, "yatucrawl.log"))
	if err != nil {
		t.Fatalf("读取主日志失败: %v", err)
	}
	if !strings.Contains(string(main), "普通信息") {
		t.Error("主日志应包含所有级别")
	}
}

func TestLogLevelFiltersDebug(t *testing.T) {
	config := testLogConfig(t, "info")
	if err := InitLogger(config); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}

	Debugf("调试日志-级别为info时不应写入 %v", true)
	l := Component("scheduler")
	l.Info().Str("series_id", "42").Msg("组件日志")

	content, err := os.ReadFile(filepath.Join(config.LogDir, "yatucrawl.log"))
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if strings.Contains(string(content), "调试日志") {
		t.Error("debug日志不应写入")
	}
	if !strings.Contains(string(content), `"component":"scheduler"`) {
		t.Error("组件字段缺失")
	}
}

func TestDefaultLogConfig(t *testing.T) {
	config := DefaultLogConfig()

	if config.Level != "info" {
		t.Errorf("默认日志级别错误: 期望 'info', 得到 '%s'", config.Level)
	}
	if config.LogDir != "logs" {
		t.Errorf("默认日志目录错误: 期望 'logs', 得到 '%s'", config.LogDir)
	}
	if config.MaxBackups != 3 {
		t.Errorf("默认备份数错误: 期望 3, 得到 %d", config.MaxBackups)
	}
}
