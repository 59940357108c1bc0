package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/yatucrawl/internal/core"
	"github.com/RecoveryAshes/yatucrawl/internal/models"
	"github.com/RecoveryAshes/yatucrawl/internal/store"
	"github.com/RecoveryAshes/yatucrawl/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 退出码
const (
	exitOK      = 0
	exitFatal   = 1 // 配置或存储错误
	exitPartial = 2 // 运行结束但仍有未完成的剧集
)

// 命令行参数
var (
	// 全局参数
	configFile     string
	verbose        bool
	logLevel       string
	headers        []string
	validateConfig bool

	// 爬取参数
	categories     []string
	categoryFile   string
	seriesWorkers  int
	episodeWorkers int
	batchSize      int
	maxPages       int
	noProgress     bool
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "yatucrawl",
	Short: "yatu.tv 剧集爬取与播放地址解析工具",
	Long: `yatucrawl - 剧集列表爬取、分集推断与播放地址解析

  • 按分类翻页发现剧集, 跨分类去重
  • 由详情页的部分分集链接推断完整分集列表
  • 多策略解析播放页, 失败时尝试备用来源
  • 所有结果即时写入存储, 中断后可 resume 继续

示例:
  yatucrawl crawl -u "http://www.yatu.tv/list/tv-{page}.html"
  yatucrawl crawl --category-file categories.txt -H "Cookie: sid=xxx"
  yatucrawl resume
  yatucrawl stats --verbose

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		cfg.MergeCLIFlags(seriesWorkers, episodeWorkers, batchSize, maxPages, logLevel)

		logConfig := cfg.LogSettings()
		logConfig.NoConsole = cmd.Name() == "stats"
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}
		appConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !validateConfig {
			return cmd.Help()
		}
		utils.Info("🔍 验证配置...")
		if err := appConfig.Validate(); err != nil {
			return err
		}
		hm, err := newHeaderManager()
		if err != nil {
			return err
		}
		if err := hm.Validate(); err != nil {
			return fmt.Errorf("HTTP头部验证失败: %w", err)
		}
		utils.Info("✅ 配置验证通过!")
		utils.Infof("当前有效的HTTP头部: %s", hm.SafeString())
		return nil
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "从分类列表页开始爬取",
	RunE: func(cmd *cobra.Command, args []string) error {
		cats, err := resolveCategories(categories, categoryFile, appConfig.Site.Categories)
		if err != nil {
			return err
		}
		if err := core.ValidateCategories(cats); err != nil {
			return err
		}
		return run(models.ModeCrawl, func(ctx context.Context, rc *core.RunContext) error {
			_, err := rc.Crawl(ctx, cats)
			return err
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "继续处理存储中未完成的剧集",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(models.ModeResume, func(ctx context.Context, rc *core.RunContext) error {
			_, err := rc.Resume(ctx)
			return err
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "输出存储统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appConfig.Validate(); err != nil {
			return err
		}
		ctx := context.Background()
		st, err := store.Open(ctx, appConfig.StoreSettings())
		if err != nil {
			return fmt.Errorf("打开存储失败: %w", err)
		}
		defer st.Close()

		stats, err := st.Stats(ctx)
		if err != nil {
			return fmt.Errorf("读取统计失败: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), utils.FormatStats(stats, verbose))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yatucrawl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func newHeaderManager() (*core.HeaderManager, error) {
	hm, err := core.NewHeaderManager(appConfig.Fetch.HeadersFile, appConfig.Fetch.UserAgent, headers)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	return hm, nil
}

// run 组装运行环境并在收到 SIGINT/SIGTERM 时停止提交新任务
func run(mode models.RunMode, fn func(ctx context.Context, rc *core.RunContext) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hm, err := newHeaderManager()
	if err != nil {
		return err
	}
	if err := hm.Validate(); err != nil {
		return fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	rc, err := core.NewRunContext(ctx, appConfig, mode, hm)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			utils.Warnf("关闭资源失败: %v", err)
		}
	}()
	rc.ShowProgress = !noProgress

	err = fn(ctx, rc)
	if ctx.Err() != nil {
		utils.Warn("⚠️  运行被中断, 执行 resume 继续")
	}
	if err != nil {
		return err
	}
	utils.Info("✨ 任务完成!")
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件和HTTP头部")

	for _, c := range []*cobra.Command{crawlCmd, resumeCmd} {
		c.Flags().IntVar(&seriesWorkers, "series-workers", 0, "剧集并发数 (覆盖配置)")
		c.Flags().IntVar(&episodeWorkers, "episode-workers", 0, "每个剧集的分集并发数 (覆盖配置)")
		c.Flags().IntVar(&batchSize, "batch-size", 0, "每批剧集数 (覆盖配置)")
		c.Flags().BoolVar(&noProgress, "no-progress", false, "不显示进度条")
	}
	crawlCmd.Flags().StringSliceVarP(&categories, "category", "u", nil, "分类URL模板, 含 {page} 占位符, 可多次指定")
	crawlCmd.Flags().StringVarP(&categoryFile, "category-file", "f", "", "分类URL模板文件, 每行一个")
	crawlCmd.Flags().IntVar(&maxPages, "max-pages", 0, "每个分类最多翻页数 (覆盖配置)")

	rootCmd.AddCommand(crawlCmd, resumeCmd, statsCmd, versionCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	}
	os.Exit(exitCode(err))
}
