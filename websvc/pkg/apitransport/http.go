package apitransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	kitjwt "github.com/go-kit/kit/auth/jwt"
	"github.com/go-kit/kit/circuitbreaker"
	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiendpoint"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiservice"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	LoginPath  = "/auth/v1/login"
	LogoutPath = "/auth/v1/logout"
	TasksPath  = "/task/v1/tasks"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// NewHTTPClient returns a service backed by the API gateway at instance. API
// errors travel inside the responses so that only transport failures count
// against the circuit breakers.
func NewHTTPClient(instance string, logger log.Logger) (apiservice.Service, error) {
	// Quickly sanitize the instance string.
	if !strings.HasPrefix(instance, "http") {
		instance = "http://" + instance
	}
	u, err := url.Parse(instance)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewErroringLimiter(rate.NewLimiter(rate.Limit(100), 100))

	var options []httptransport.ClientOption

	var loginEndpoint endpoint.Endpoint
	{
		loginEndpoint = httptransport.NewClient(
			"POST",
			copyURL(u, LoginPath),
			encodeHTTPGenericRequest,
			decodeHTTPLoginResponse,
			options...,
		).Endpoint()
		loginEndpoint = limiter(loginEndpoint)
		loginEndpoint = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "Login",
			Timeout: 30 * time.Second,
		}))(loginEndpoint)
		loginEndpoint = apiendpoint.LoggingMiddleware(log.With(logger, "method", "Login"))(loginEndpoint)
	}

	var logoutEndpoint endpoint.Endpoint
	{
		logoutEndpoint = httptransport.NewClient(
			"POST",
			copyURL(u, LogoutPath),
			encodeHTTPEmptyRequest,
			decodeHTTPLogoutResponse,
			append(options, httptransport.ClientBefore(kitjwt.ContextToHTTP()))...,
		).Endpoint()
		logoutEndpoint = limiter(logoutEndpoint)
		logoutEndpoint = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "Logout",
			Timeout: 30 * time.Second,
		}))(logoutEndpoint)
		logoutEndpoint = apiendpoint.LoggingMiddleware(log.With(logger, "method", "Logout"))(logoutEndpoint)
	}

	var tasksEndpoint endpoint.Endpoint
	{
		tasksEndpoint = httptransport.NewClient(
			"GET",
			copyURL(u, TasksPath),
			encodeHTTPEmptyRequest,
			decodeHTTPTasksResponse,
			append(options, httptransport.ClientBefore(kitjwt.ContextToHTTP()))...,
		).Endpoint()
		tasksEndpoint = limiter(tasksEndpoint)
		tasksEndpoint = circuitbreaker.Gobreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "Tasks",
			Timeout: 30 * time.Second,
		}))(tasksEndpoint)
		tasksEndpoint = apiendpoint.LoggingMiddleware(log.With(logger, "method", "Tasks"))(tasksEndpoint)
	}

	return apiendpoint.Set{
		LoginEndpoint:  loginEndpoint,
		LogoutEndpoint: logoutEndpoint,
		TasksEndpoint:  tasksEndpoint,
	}, nil
}

// copyURL appends path to whatever path prefix the base URL already has.
func copyURL(base *url.URL, path string) *url.URL {
	next := *base
	next.Path = strings.TrimRight(base.Path, "/") + path
	return &next
}

type errorWrapper struct {
	Error string `json:"error"`
}

func successful(code int) bool {
	return code >= 200 && code < 300
}

// decodeHTTPError maps a non-2xx response to an API error. The error field of
// the body wins; the status line is used when there is none.
func decodeHTTPError(r *http.Response) error {
	msg := r.Status

	var w errorWrapper
	if err := json.NewDecoder(io.LimitReader(r.Body, maxErrorBody)).Decode(&w); err == nil && w.Error != "" {
		msg = w.Error
	}

	return &websvc.Error{Kind: websvc.KindAPI, Message: msg}
}

func decodeHTTPLoginResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if !successful(r.StatusCode) {
		return apiendpoint.LoginResponse{Err: decodeHTTPError(r)}, nil
	}
	var resp apiendpoint.LoginResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Tokens.Access == "" {
		return nil, websvc.ErrUnexpectedPayload
	}
	return resp, nil
}

func decodeHTTPLogoutResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if !successful(r.StatusCode) {
		return apiendpoint.LogoutResponse{Err: decodeHTTPError(r)}, nil
	}
	io.Copy(ioutil.Discard, io.LimitReader(r.Body, maxErrorBody))
	return apiendpoint.LogoutResponse{Success: true}, nil
}

func decodeHTTPTasksResponse(_ context.Context, r *http.Response) (interface{}, error) {
	if !successful(r.StatusCode) {
		return apiendpoint.TasksResponse{Err: decodeHTTPError(r)}, nil
	}
	var resp apiendpoint.TasksResponse
	err := json.NewDecoder(r.Body).Decode(&resp)
	return resp, err
}

// encodeHTTPGenericRequest is a transport/http.EncodeRequestFunc that
// JSON-encodes any request to the request body.
func encodeHTTPGenericRequest(_ context.Context, r *http.Request, request interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(request); err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	r.ContentLength = int64(buf.Len())
	r.Body = ioutil.NopCloser(&buf)
	return nil
}

func encodeHTTPEmptyRequest(_ context.Context, r *http.Request, _ interface{}) error {
	return nil
}
