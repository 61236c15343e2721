package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	PID      process.Process
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	FramesetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framesets_processed_total",
		Help: "Total number of framesets driven through the pipeline",
	})
	MarksFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marks_found_total",
		Help: "Total number of per-camera marker hits",
	})
	MarksLostTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "marks_lost_total",
		Help: "Total number of per-camera marker misses",
	})
	PipelineRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_rebuilds_total",
		Help: "Total number of pipeline assemblies",
	})
	PipelineArity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_arity",
		Help: "Camera count of the currently assembled pipeline",
	})
)

var srv *http.Server

func prom(port int) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(memUsage, cpuUsage,
		FramesetsTotal, MarksFoundTotal, MarksLostTotal,
		PipelineRebuilds, PipelineArity)
	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: nil,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Prometheus server ListenAndServe error: %v\n", err)
		}
	}()
}

func CheckProcessInfo() {
	if MemInfo, err := PID.MemoryInfo(); err == nil {
		memUsage.Set(float64(MemInfo.RSS / 1024 / 1024))
	}
	if CPUPercent, err := PID.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(CPUPercent*100) / 100)
	}
}

func GotPID() {
	pid := os.Getpid()
	PID.Pid = int32(pid)
}

func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	go prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			fmt.Printf("Prometheus server Shutdown error: %v\n", err)
		}
	}
}
