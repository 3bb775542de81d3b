package apiservice

import (
	"context"
	"errors"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/ichigozero/gtdkit/web/websvc"
)

type Middleware func(Service) Service

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return loggingMiddleware{logger, next}
	}
}

type loggingMiddleware struct {
	logger log.Logger
	next   Service
}

func (mw loggingMiddleware) Login(ctx context.Context, username, password string) (t websvc.Tokens, err error) {
	defer func() {
		mw.logger.Log(
			"method", "Login",
			"username", username,
			"kind", kindOf(err),
			"err", err,
		)
	}()
	return mw.next.Login(ctx, username, password)
}

func (mw loggingMiddleware) Logout(ctx context.Context, accessToken string) (err error) {
	defer func() {
		mw.logger.Log(
			"method", "Logout",
			"kind", kindOf(err),
			"err", err,
		)
	}()
	return mw.next.Logout(ctx, accessToken)
}

func (mw loggingMiddleware) Tasks(ctx context.Context, accessToken string) (t []websvc.Task, err error) {
	defer func() {
		mw.logger.Log(
			"method", "Tasks",
			"count", len(t),
			"kind", kindOf(err),
			"err", err,
		)
	}()
	return mw.next.Tasks(ctx, accessToken)
}

func kindOf(err error) string {
	if err == nil {
		return ""
	}
	var e *websvc.Error
	if errors.As(err, &e) {
		return e.Kind.String()
	}
	return "unknown"
}

func InstrumentingMiddleware(counter metrics.Counter, latency metrics.Histogram) Middleware {
	return func(next Service) Service {
		return instrumentingMiddleware{counter, latency, next}
	}
}

type instrumentingMiddleware struct {
	requestCount   metrics.Counter
	requestLatency metrics.Histogram
	next           Service
}

func (mw instrumentingMiddleware) Login(ctx context.Context, username, password string) (t websvc.Tokens, err error) {
	defer func(begin time.Time) {
		mw.requestCount.With("method", "login").Add(1)
		mw.requestLatency.With("method", "login").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.Login(ctx, username, password)
}

func (mw instrumentingMiddleware) Logout(ctx context.Context, accessToken string) (err error) {
	defer func(begin time.Time) {
		mw.requestCount.With("method", "logout").Add(1)
		mw.requestLatency.With("method", "logout").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.Logout(ctx, accessToken)
}

func (mw instrumentingMiddleware) Tasks(ctx context.Context, accessToken string) (t []websvc.Task, err error) {
	defer func(begin time.Time) {
		mw.requestCount.With("method", "tasks").Add(1)
		mw.requestLatency.With("method", "tasks").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mw.next.Tasks(ctx, accessToken)
}
