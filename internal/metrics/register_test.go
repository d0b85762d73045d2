package metrics

import (
	"testing"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

func TestGRPCServerMetrics_DefaultRegistererDoesNotPanic(t *testing.T) {
	first := GRPCServerMetrics()
	second := GRPCServerMetrics()

	if first != promgrpc.DefaultServerMetrics {
		t.Fatal("expected metrics pre-registered by go-grpc-prometheus")
	}
	if first != second {
		t.Fatal("expected the same metrics on repeated calls")
	}
}

func TestGRPCServerMetrics_CustomRegistererSharesInstance(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := grpcServerMetrics(reg)
	second := grpcServerMetrics(reg)
	if first == nil || first != second {
		t.Fatalf("expected shared metrics, got %p and %p", first, second)
	}
	if first == promgrpc.DefaultServerMetrics {
		t.Fatal("custom registerer must not reuse the default metrics")
	}
}
