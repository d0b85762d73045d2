package metrics

import (
	"errors"
	"fmt"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// mustRegister регистрирует collector; при повторной регистрации возвращает уже
// существующий экземпляр, чтобы несколько компонентов процесса делили одни метрики.
func mustRegister[T prometheus.Collector](registerer prometheus.Registerer, name string, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		panic(fmt.Sprintf("register %q: %v", name, err))
	}
	existing, ok := already.ExistingCollector.(T)
	if !ok {
		panic(fmt.Sprintf("collector %q already registered with unexpected type %T", name, already.ExistingCollector))
	}
	return existing
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return mustRegister(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return mustRegister[prometheus.Gauge](registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return mustRegister[prometheus.Histogram](registerer, opts.Name, prometheus.NewHistogram(opts))
}

// GRPCServerMetrics возвращает общий для процесса набор gRPC-метрик сервера.
// Счётчики promgrpc.DefaultServerMetrics регистрируются в DefaultRegisterer ещё в init пакета
// go-grpc-prometheus, поэтому для него новый набор не создаётся.
func GRPCServerMetrics() *promgrpc.ServerMetrics {
	return grpcServerMetrics(prometheus.DefaultRegisterer)
}

func grpcServerMetrics(registerer prometheus.Registerer) *promgrpc.ServerMetrics {
	if registerer == prometheus.DefaultRegisterer {
		return promgrpc.DefaultServerMetrics
	}
	return mustRegister(registerer, "grpc_server", promgrpc.NewServerMetrics())
}
