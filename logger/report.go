package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsDepth    int64
	errorsSnapshot int64
	warnsDepth     int64
	warnsSnapshot  int64
	diffReads      int64
	snapshotReads  int64
	tradeReads     int64
	statesEmitted  int64
	reconnects     int64
	channelStats   sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "depth") || strings.Contains(component, "dispatcher") {
		atomic.AddInt64(&warnsDepth, 1)
	} else if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&warnsSnapshot, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "depth") || strings.Contains(component, "dispatcher") {
		atomic.AddInt64(&errorsDepth, 1)
	} else if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&errorsSnapshot, 1)
	}
}

func IncrementDiffRead(size int) {
	atomic.AddInt64(&diffReads, 1)
	recordChannel("depth_ws", size)
}

func IncrementSnapshotRead(size int) {
	atomic.AddInt64(&snapshotReads, 1)
	recordChannel("snapshot_rest", size)
}

func IncrementTradeRead(size int) {
	atomic.AddInt64(&tradeReads, 1)
	recordChannel("market_ws", size)
}

func IncrementStateEmitted() {
	atomic.AddInt64(&statesEmitted, 1)
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channelStats.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	channelData := map[string]map[string]int64{}
	channelStats.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_depth":    atomic.LoadInt64(&errorsDepth),
		"errors_snapshot": atomic.LoadInt64(&errorsSnapshot),
		"warns_depth":     atomic.LoadInt64(&warnsDepth),
		"warns_snapshot":  atomic.LoadInt64(&warnsSnapshot),
		"diff_reads":      atomic.LoadInt64(&diffReads),
		"snapshot_reads":  atomic.LoadInt64(&snapshotReads),
		"trade_reads":     atomic.LoadInt64(&tradeReads),
		"states_emitted":  atomic.LoadInt64(&statesEmitted),
		"reconnects":      atomic.LoadInt64(&reconnects),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       memMB,
		"channels":        channelData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("DiffReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&diffReads)))},
		{MetricName: aws.String("SnapshotReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotReads)))},
		{MetricName: aws.String("TradeReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&tradeReads)))},
		{MetricName: aws.String("StatesEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&statesEmitted)))},
		{MetricName: aws.String("Reconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&reconnects)))},
		{MetricName: aws.String("WarnsDepth"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsDepth)))},
		{MetricName: aws.String("WarnsSnapshot"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&warnsSnapshot)))},
	}

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
