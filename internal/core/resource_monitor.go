package core

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 根据系统内存与CPU负载估算可同时打开的任务标签页数
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 以下两个函数便于测试替换
	virtualMemory func() (*mem.VirtualMemoryStat, error)
	cpuPercent    func(time.Duration, bool) ([]float64, error)

	mu         sync.Mutex
	cached     int
	cachedAt   time.Time
	lastStatus MemoryStatus
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory uint64        // 留给系统与浏览器主进程的内存(字节)
	PageMemoryUsage     uint64        // 单个任务页平均内存消耗(字节)
	CPULoadThreshold    float64       // CPU使用率超过该值时只允许1个页面(%)
	MaxPagesLimit       int           // 绝对上限
	CacheTTL            time.Duration // 计算结果缓存时间
}

// DefaultResourceMonitorConfig 默认配置
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		SafetyReserveMemory: 1024 * 1024 * 1024,
		PageMemoryUsage:     300 * 1024 * 1024, // 任务页是较重的单页应用
		CPULoadThreshold:    90,
		MaxPagesLimit:       8,
		CacheTTL:            time.Second,
	}
}

// MemoryStatus 内存状态
type MemoryStatus struct {
	TotalMemory     uint64
	AvailableMemory uint64
	CPUUsage        float64
	MemoryPressure  string // normal | warning | critical
}

// NewResourceMonitor 创建资源监控器
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	defaults := DefaultResourceMonitorConfig()
	if config.PageMemoryUsage == 0 {
		config.PageMemoryUsage = defaults.PageMemoryUsage
	}
	if config.MaxPagesLimit <= 0 {
		config.MaxPagesLimit = defaults.MaxPagesLimit
	}
	if config.CPULoadThreshold <= 0 {
		config.CPULoadThreshold = defaults.CPULoadThreshold
	}
	return &ResourceMonitor{
		config:        config,
		virtualMemory: mem.VirtualMemory,
		cpuPercent:    cpu.Percent,
	}
}

// sample 采集一次内存与CPU数据
func (rm *ResourceMonitor) sample() MemoryStatus {
	var status MemoryStatus

	vm, err := rm.virtualMemory()
	if err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败,按4GB估算")
		status.TotalMemory = 4 * 1024 * 1024 * 1024
		status.AvailableMemory = status.TotalMemory / 2
	} else {
		status.TotalMemory = vm.Total
		status.AvailableMemory = vm.Available
	}

	if percentages, err := rm.cpuPercent(100*time.Millisecond, false); err != nil {
		log.Warn().Err(err).Msg("获取CPU使用率失败")
	} else if len(percentages) > 0 {
		status.CPUUsage = percentages[0]
	}

	availableMB := status.AvailableMemory / (1024 * 1024)
	switch {
	case availableMB < 500:
		status.MemoryPressure = "critical"
	case availableMB < 1024:
		status.MemoryPressure = "warning"
	default:
		status.MemoryPressure = "normal"
	}
	return status
}

// CalculateMaxPages 计算当前允许同时打开的任务页数,至少为1
func (rm *ResourceMonitor) CalculateMaxPages() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.cached > 0 && time.Since(rm.cachedAt) < rm.config.CacheTTL {
		return rm.cached
	}

	status := rm.sample()
	rm.lastStatus = status

	byMemory := 1
	if status.AvailableMemory > rm.config.SafetyReserveMemory {
		byMemory = int((status.AvailableMemory - rm.config.SafetyReserveMemory) / rm.config.PageMemoryUsage)
	}

	result := min(byMemory, runtime.NumCPU(), rm.config.MaxPagesLimit)
	if status.CPUUsage > rm.config.CPULoadThreshold {
		log.Warn().Msgf("CPU负载过高(当前%.1f%%),并发降为1", status.CPUUsage)
		result = 1
	}
	if status.MemoryPressure == "critical" {
		log.Warn().Msgf("可用内存不足(当前%dMB),并发降为1", status.AvailableMemory/(1024*1024))
		result = 1
	}
	result = max(result, 1)

	rm.cached = result
	rm.cachedAt = time.Now()
	return result
}

// Status 最近一次采样的状态
func (rm *ResourceMonitor) Status() MemoryStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastStatus
}

// String 用于日志
func (s MemoryStatus) String() string {
	return fmt.Sprintf("内存 %.2f/%.2f GB 可用, CPU %.1f%%, 压力 %s",
		float64(s.AvailableMemory)/(1024*1024*1024), float64(s.TotalMemory)/(1024*1024*1024), s.CPUUsage, s.MemoryPressure)
}
