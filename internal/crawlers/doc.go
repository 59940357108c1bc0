// Package crawlers 页面抓取层
//
// 所有抓取都经过同一条链路:
//
//	GuardedFetcher (分类 + 退避) → LimitedFetcher (全局并发上限 + 每主机限速) → CollyFetcher / RodFetcher
//
// CollyFetcher 负责普通HTTP抓取,解压并统一转换为UTF-8;
// RodFetcher 使用无头浏览器渲染依赖JS的页面。
// Classifier 将失败归类为 network/auth/rate_limit/server/unknown,
// BackoffController 在连续失败达到阈值后暂停所有抓取一段冷却时间。
package crawlers
