// Package telemetry provides OpenTelemetry tracing and metrics for lessonflow.
//
// Spans and instruments are exported over OTLP (gRPC by default, or
// http/protobuf) to a collector. Pipeline runs, individual stage attempts and
// the monitoring HTTP server are instrumented through the Tracer and Meter
// returned here.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch, err := pipeline.New(models, exec, pipeline.WithTelemetry(tel.Tracer("lessonflow.pipeline"), tel.Meter("lessonflow.pipeline")))
//
// Telemetry failures never stop the service: a provider that cannot be built
// leaves the instance degraded and the global no-op provider in place.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a manual reader.
package telemetry
