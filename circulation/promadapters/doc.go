// Package promadapters provides a Prometheus adapter for the circulation
// metrics interface, for deployments that scrape metrics instead of
// pushing them through OpenTelemetry.
//
// Instruments are created lazily on first use and registered with the
// supplied registerer. A metric's label set is fixed by its first
// observation; the circulation engines always emit consistent label sets
// per metric name.
package promadapters
