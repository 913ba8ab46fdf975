// Package metrics defines the events emitted by the allocation engine and the
// sinks that record them. Sinks like PromSink and InfluxSink live in
// infra/metrics and can be combined with NewMultiSink. NewMetricsSink returns
// a MultiSink automatically when several sinks are configured.
package metrics
