package zipstream

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// streamerMetrics holds the Prometheus collectors shared by every
// Streamer in the process. Collectors are registered exactly once,
// the same sync.Once idiom used throughout bb-storage's blobstore
// packages, so constructing many Streamers (one per request, say)
// never triggers a "duplicate metrics collector registration" panic.
type streamerMetrics struct {
	entriesWritten prometheus.Counter
	bytesWritten   prometheus.Counter
}

var (
	streamerMetricsOnce sync.Once
	streamerMetricsInst *streamerMetrics
)

func globalStreamerMetrics() *streamerMetrics {
	streamerMetricsOnce.Do(func() {
		m := &streamerMetrics{
			entriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zipstream",
				Subsystem: "streamer",
				Name:      "entries_written_total",
				Help:      "Number of entries written to ZIP archives by Streamer.",
			}),
			bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zipstream",
				Subsystem: "streamer",
				Name:      "compressed_bytes_written_total",
				Help:      "Number of compressed entry bytes written to ZIP archives by Streamer.",
			}),
		}
		prometheus.MustRegister(m.entriesWritten)
		prometheus.MustRegister(m.bytesWritten)
		streamerMetricsInst = m
	})
	return streamerMetricsInst
}

// readerMetrics holds the Prometheus collectors shared by every
// FileReader in the process.
type readerMetrics struct {
	archivesOpened prometheus.Counter
	entriesListed  prometheus.Counter
	fallbackScans  prometheus.Counter
}

var (
	readerMetricsOnce sync.Once
	readerMetricsInst *readerMetrics
)

func globalReaderMetrics() *readerMetrics {
	readerMetricsOnce.Do(func() {
		m := &readerMetrics{
			archivesOpened: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zipstream",
				Subsystem: "reader",
				Name:      "archives_opened_total",
				Help:      "Number of archives opened by FileReader.",
			}),
			entriesListed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zipstream",
				Subsystem: "reader",
				Name:      "entries_listed_total",
				Help:      "Number of central directory entries decoded by FileReader.",
			}),
			fallbackScans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "zipstream",
				Subsystem: "reader",
				Name:      "fallback_scans_total",
				Help:      "Number of times FileReader fell back to a straight-ahead local header scan.",
			}),
		}
		prometheus.MustRegister(m.archivesOpened)
		prometheus.MustRegister(m.entriesListed)
		prometheus.MustRegister(m.fallbackScans)
		readerMetricsInst = m
	})
	return readerMetricsInst
}
