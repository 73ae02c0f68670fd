package executor

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 执行单元的 prometheus 指标
type Metrics struct {
	unitCounter    *prometheus.CounterVec
	unitDuration   *prometheus.HistogramVec
	retryCounter   *prometheus.CounterVec
	refreshCounter *prometheus.CounterVec
	activeUnits    *prometheus.GaugeVec
}

// NewMetrics 创建并注册指标，同名指标已经注册时复用已有的
func NewMetrics(name string, registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		unitCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_units_total",
				Help: "Total number of executed units of work",
			},
			[]string{"operation", "status"},
		),
		unitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_unit_duration_seconds",
				Help:    "Duration of units of work in seconds, retries included",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		retryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_retries_total",
				Help: "Total number of retries after transient failures",
			},
			[]string{"operation"},
		),
		refreshCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_connection_refreshes_total",
				Help: "Total number of connection refreshes",
			},
			[]string{"status"},
		),
		activeUnits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: name + "_active_units",
				Help: "Number of running units of work",
			},
			[]string{"operation"},
		),
	}

	var err error
	if m.unitCounter, err = register(registerer, m.unitCounter); err != nil {
		return nil, err
	}
	if m.unitDuration, err = register(registerer, m.unitDuration); err != nil {
		return nil, err
	}
	if m.retryCounter, err = register(registerer, m.retryCounter); err != nil {
		return nil, err
	}
	if m.refreshCounter, err = register(registerer, m.refreshCounter); err != nil {
		return nil, err
	}
	if m.activeUnits, err = register(registerer, m.activeUnits); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register metric failed")
	}
	return c, nil
}
