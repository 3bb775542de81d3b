package apiservice

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/ichigozero/gtdkit/web/websvc"
)

// Service is the part of the gtdkit API the web client consumes. Every error
// returned by an implementation is a *websvc.Error.
type Service interface {
	Login(ctx context.Context, username, password string) (websvc.Tokens, error)
	Logout(ctx context.Context, accessToken string) error
	Tasks(ctx context.Context, accessToken string) ([]websvc.Task, error)
}

func New(next Service, logger log.Logger, counter metrics.Counter, latency metrics.Histogram) Service {
	var svc Service
	{
		svc = next
		svc = LoggingMiddleware(logger)(svc)
		svc = InstrumentingMiddleware(counter, latency)(svc)
	}
	return svc
}
