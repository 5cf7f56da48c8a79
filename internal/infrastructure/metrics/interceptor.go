package metrics

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC interceptor that records metrics for each request.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		done := observe(collector, exporter, info.FullMethod)
		resp, err := handler(ctx, req)
		done(err)
		return resp, err
	}
}

// StreamServerInterceptor records one request per stream; the duration covers
// the whole stream lifetime.
func StreamServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		done := observe(collector, exporter, info.FullMethod)
		err := handler(srv, ss)
		done(err)
		return err
	}
}

func observe(collector *Collector, exporter *PrometheusExporter, method string) func(error) {
	start := time.Now()

	collector.RecordRequest(method)
	if exporter != nil {
		exporter.RecordRequest(method)
	}

	return func(err error) {
		duration := time.Since(start).Seconds()
		collector.RecordDuration(method, duration)
		if exporter != nil {
			exporter.RecordDuration(method, duration)
		}

		if err != nil {
			collector.RecordError(method)
			if exporter != nil {
				exporter.RecordError(method, status.Code(err).String())
			}
		}
	}
}
