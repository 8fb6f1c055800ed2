package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type sourceStat struct {
	fetches int64
	bytes   int64
	rows    int64
}

var (
	errorsTotal   int64
	warnsTotal    int64
	httpFetches   int64
	rowsInserted  int64
	archiveWrites int64
	archiveBytes  int64
	sources       sync.Map // map[string]*sourceStat
)

func recordWarn(string) {
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(string) {
	atomic.AddInt64(&errorsTotal, 1)
}

// IncrementFetch counts one completed HTTP fetch for a source and the bytes
// it returned.
func IncrementFetch(source string, size int) {
	atomic.AddInt64(&httpFetches, 1)
	st := sourceStats(source)
	atomic.AddInt64(&st.fetches, 1)
	atomic.AddInt64(&st.bytes, int64(size))
}

// AddRowsInserted counts rows landed in the store for a source.
func AddRowsInserted(source string, n int) {
	atomic.AddInt64(&rowsInserted, int64(n))
	atomic.AddInt64(&sourceStats(source).rows, int64(n))
}

// IncrementArchiveWrite counts one Parquet file uploaded to the landing zone.
func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	atomic.AddInt64(&archiveBytes, size)
}

func sourceStats(name string) *sourceStat {
	v, _ := sources.LoadOrStore(name, &sourceStat{})
	return v.(*sourceStat)
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
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

// StartReport begins periodic logging of system and per-source statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	sourceData := map[string]map[string]int64{}
	sources.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*sourceStat)
		sourceData[name] = map[string]int64{
			"fetches": atomic.LoadInt64(&st.fetches),
			"bytes":   atomic.LoadInt64(&st.bytes),
			"rows":    atomic.LoadInt64(&st.rows),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_total":   atomic.LoadInt64(&errorsTotal),
		"warns_total":    atomic.LoadInt64(&warnsTotal),
		"http_fetches":   atomic.LoadInt64(&httpFetches),
		"rows_inserted":  atomic.LoadInt64(&rowsInserted),
		"archive_writes": atomic.LoadInt64(&archiveWrites),
		"archive_bytes":  atomic.LoadInt64(&archiveBytes),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"sources":        sourceData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-ErrorsTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-WarnsTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-HttpFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["http_fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-RowsInserted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rows_inserted"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-ArchiveBytes"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(fields["archive_bytes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Macroflow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range sourceData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Macroflow-SourceFetches"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Source"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["fetches"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Macroflow-SourceRows"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Source"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["rows"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
