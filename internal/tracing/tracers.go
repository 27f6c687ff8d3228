// Package tracing provides the opentracing tracers of the services and the
// helpers to propagate a span across an HTTP call.
package tracing

import (
	"io"
	"net/http"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	_ "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

var (
	// CommandTag is the span tag holding the ledger command of a transaction.
	CommandTag = "command"

	// ElectionTag is the span tag holding the election identifier.
	ElectionTag = "election"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByService map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByService: make(map[string]closableTracer),
}

// GetTracerForService returns an `opentracing.Tracer` instance for the given
// service name. Since the tracers are cached, it returns an existing one if it
// has been initialized before. The jaeger configuration is read from the
// environment.
func GetTracerForService(service string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByService[service]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = service
	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByService[service] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// CloseAll closes all the tracer instances.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for service, tc := range catalog.tracerByService {
		err := tc.closer.Close()
		if err != nil {
			return err
		}

		delete(catalog.tracerByService, service)
	}

	return nil
}

// Inject writes the context of the span in the headers of the request.
func Inject(tracer opentracing.Tracer, span opentracing.Span, req *http.Request) error {
	ext.SpanKindRPCClient.Set(span)
	ext.HTTPMethod.Set(span, req.Method)
	ext.HTTPUrl.Set(span, req.URL.String())

	carrier := opentracing.HTTPHeadersCarrier(req.Header)

	err := tracer.Inject(span.Context(), opentracing.HTTPHeaders, carrier)
	if err != nil {
		return xerrors.Errorf("failed to inject span: %v", err)
	}

	return nil
}

// StartServerSpan starts a span for an incoming request. The span is a child
// of the one found in the headers, if any.
func StartServerSpan(tracer opentracing.Tracer, r *http.Request, op string) opentracing.Span {
	carrier := opentracing.HTTPHeadersCarrier(r.Header)

	parent, err := tracer.Extract(opentracing.HTTPHeaders, carrier)
	if err != nil {
		return tracer.StartSpan(op, ext.SpanKindRPCServer)
	}

	return tracer.StartSpan(op, ext.RPCServerOption(parent))
}
