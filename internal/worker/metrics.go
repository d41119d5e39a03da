package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	videoTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amma_video_tasks_total",
			Help: "video:generate task outcomes by transport",
		},
		[]string{"transport", "outcome"},
	)

	videoTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "amma_video_task_duration_seconds",
			Help:    "Time spent rendering or publishing a video run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"transport"},
	)
)
