package crawlers

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	RSS             uint64  // 进程常驻内存(字节)
	HeapAlloc       uint64  // Go堆已分配(字节)
	SystemTotal     uint64  // 系统总内存(字节)
	SystemAvailable uint64  // 系统可用内存(字节)
	CPUPercent      float64 // 最近一次采样的CPU使用率
}

// RSSMB 进程常驻内存(MB)
func (s MemoryStatus) RSSMB() float64 {
	return float64(s.RSS) / (1024 * 1024)
}

// String 日志格式
func (s MemoryStatus) String() string {
	return fmt.Sprintf("RSS=%.1fMB heap=%.1fMB 系统可用=%.2fGB CPU=%.0f%%",
		s.RSSMB(), float64(s.HeapAlloc)/(1024*1024),
		float64(s.SystemAvailable)/(1024*1024*1024), s.CPUPercent)
}

// ResourceMonitor 进程资源采样
type ResourceMonitor struct {
	proc *process.Process
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor() *ResourceMonitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn().Err(err).Msg("获取进程信息失败,RSS将以Go运行时统计代替")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		log.Debug().Msgf("系统总内存: %.2f GB", float64(vm.Total)/(1024*1024*1024))
	}
	return &ResourceMonitor{proc: proc}
}

// Sample 采样当前内存状态
func (rm *ResourceMonitor) Sample() MemoryStatus {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := MemoryStatus{HeapAlloc: ms.HeapAlloc, RSS: ms.Sys}
	if rm.proc != nil {
		if info, err := rm.proc.MemoryInfo(); err == nil {
			status.RSS = info.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status.SystemTotal = vm.Total
		status.SystemAvailable = vm.Available
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		status.CPUPercent = pct[0]
	}
	return status
}

// RSSMB 当前进程常驻内存(MB)
func (rm *ResourceMonitor) RSSMB() float64 {
	return rm.Sample().RSSMB()
}
