package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// LogSink logs progress at most once per Interval, plus the final update.
type LogSink struct {
	Action   string
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (s *LogSink) Update(completed, total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := time.Now()
	if completed < total && now.Sub(s.last) < interval {
		return
	}
	s.last = now
	log.Info().
		Str("action", s.Action).
		Int64("completed", completed).
		Int64("total", total).
		Msg("transfer progress")
}

// PrometheusSink exposes progress as gauges labelled by operation kind.
type PrometheusSink struct {
	kind      string
	completed *prometheus.GaugeVec
	total     *prometheus.GaugeVec
}

// NewPrometheusSink registers (or reuses) the progress gauges on reg.
func NewPrometheusSink(reg prometheus.Registerer, kind string) (*PrometheusSink, error) {
	completed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cassandra_backup",
		Name:      "transfer_completed_files",
		Help:      "Files uploaded, freshened or downloaded by the current operation.",
	}, []string{"operation"})
	total := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cassandra_backup",
		Name:      "transfer_total_files",
		Help:      "Files in the current transfer batch.",
	}, []string{"operation"})

	var err error
	if completed, err = registerGauge(reg, completed); err != nil {
		return nil, err
	}
	if total, err = registerGauge(reg, total); err != nil {
		return nil, err
	}
	return &PrometheusSink{kind: kind, completed: completed, total: total}, nil
}

func registerGauge(reg prometheus.Registerer, g *prometheus.GaugeVec) (*prometheus.GaugeVec, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("register progress gauge: %w", err)
	}
	return g, nil
}

func (s *PrometheusSink) Update(completed, total int64) {
	s.completed.WithLabelValues(s.kind).Set(float64(completed))
	s.total.WithLabelValues(s.kind).Set(float64(total))
}
