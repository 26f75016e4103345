package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instruments hands out the tracer and metric instruments of one component.
// Instrument names are prefixed "clientpulse.<component>.", so the ingest
// counter "rows" is exported as clientpulse_ingest_rows_total.
//
// Instruments read the global providers when called, so components built
// before New still report once New has run.
type Instruments struct {
	component string
	meter     metric.Meter
	tracer    trace.Tracer
}

// For returns the instruments of component, e.g. "ingest" or "policy".
func For(component string) Instruments {
	scope := "clientpulse/" + component
	return Instruments{
		component: component,
		meter:     otel.Meter(scope),
		tracer:    otel.Tracer(scope),
	}
}

// Tracer returns the component's tracer.
func (i Instruments) Tracer() trace.Tracer { return i.tracer }

// Name returns the exported name of a component instrument.
func (i Instruments) Name(name string) string {
	return "clientpulse." + i.component + "." + name
}

// Counter creates a monotonic counter.
func (i Instruments) Counter(name, description string) (metric.Int64Counter, error) {
	return i.meter.Int64Counter(i.Name(name), metric.WithDescription(description))
}

// Seconds creates a latency histogram in seconds.
func (i Instruments) Seconds(name, description string) (metric.Float64Histogram, error) {
	return i.meter.Float64Histogram(i.Name(name),
		metric.WithDescription(description), metric.WithUnit("s"))
}
