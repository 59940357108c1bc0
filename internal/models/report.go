package models

import (
	"encoding/json"
	"time"
)

// RunReport 单次运行报告
type RunReport struct {
	RunID      string    `json:"run_id"`
	Mode       RunMode   `json:"mode"`
	Categories []string  `json:"categories,omitempty"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Duration   float64   `json:"duration"` // 秒

	Interrupted bool `json:"interrupted"`

	Stats    RunSnapshot             `json:"stats"`
	Failures map[ErrorCategory]int64 `json:"failures"`
	Store    StoreStats              `json:"store"`

	// Recommendation 基于主要失败类别的处理建议
	Recommendation string `json:"recommendation,omitempty"`

	// IncompleteSeries 本次运行后仍未完成的剧集ID
	IncompleteSeries []string `json:"incomplete_series,omitempty"`
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// DominantCategory 失败次数最多的类别,无失败时返回空
// 次数相同按AllCategories顺序取先出现者
func (r *RunReport) DominantCategory() ErrorCategory {
	var best ErrorCategory
	var max int64
	for _, c := range AllCategories {
		if n := r.Failures[c]; n > max {
			best, max = c, n
		}
	}
	return best
}
