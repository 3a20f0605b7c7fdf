// Package oteladapters provides OpenTelemetry adapters for the circulation
// observability interfaces. These adapters enable plug-and-play
// observability for users who do not want to implement the interfaces
// themselves.
//
// SlogLogger adapts a log/slog logger to circulation.Logger.
// SlogBridgeLogger adapts the OpenTelemetry slog bridge to
// circulation.ContextualLogger with automatic trace correlation.
// MetricsCollector and TracingCollector map the circulation metrics and
// tracing interfaces onto OpenTelemetry instruments and spans.
package oteladapters
