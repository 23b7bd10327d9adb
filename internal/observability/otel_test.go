package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"

	"casedata/internal/logger"
)

func TestInitOTelDisabledIsNoop(t *testing.T) {
	shutdown, err := InitOTel(context.Background(), logger.Nop(), OtelConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestInitOTelExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := InitOTel(ctx, logger.Nop(), OtelConfig{Enabled: true, ServiceName: "casedata-test", Writer: &buf})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "unit-span")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "unit-span") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestBuildExporterPicksOTLPWhenEndpointSet(t *testing.T) {
	exp, err := buildExporter(context.Background(), OtelConfig{OTLPEndpoint: "127.0.0.1:4318", OTLPInsecure: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer exp.Shutdown(context.Background())
	if _, ok := exp.(*stdouttrace.Exporter); ok {
		t.Fatal("expected an OTLP exporter")
	}
}
