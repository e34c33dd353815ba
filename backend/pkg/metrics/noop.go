package metrics

// NoopCollector is the collector used when metrics are disabled.
type NoopCollector struct{}

// NewNoopCollector creates a no-op collector
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

func (n *NoopCollector) RecordResolution(tier string, isNew bool, seconds float64) {}

func (n *NoopCollector) RecordExplore(status string, seconds float64) {}

func (n *NoopCollector) RecordStage(stage string, seconds float64) {}

func (n *NoopCollector) RecordSignalDegraded(signal string) {}

func (n *NoopCollector) RecordError(operation string, errorType string) {}
