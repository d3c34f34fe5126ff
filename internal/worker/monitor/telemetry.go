package monitor

import "go.uber.org/zap"

// Telemetry 降级上报的收口接口，核心组件只依赖这个窄接口
type Telemetry interface {
	RecordServiceHealth(name string, healthy bool, details string)
	RecordFallbackUsage(name string, reason string)
}

// promTelemetry 把健康状态落到Prometheus并打日志
type promTelemetry struct {
	tl *zap.Logger
}

func NewTelemetry(tl *zap.Logger) Telemetry {
	return &promTelemetry{tl: tl}
}

func (t *promTelemetry) RecordServiceHealth(name string, healthy bool, details string) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	ServiceHealth.WithLabelValues(name).Set(value)

	if !healthy {
		t.tl.Warn("service degraded",
			zap.String("service", name),
			zap.String("details", details))
	}
}

func (t *promTelemetry) RecordFallbackUsage(name string, reason string) {
	FallbackUsage.WithLabelValues(name, reason).Inc()
	t.tl.Warn("fallback used",
		zap.String("service", name),
		zap.String("reason", reason))
}
