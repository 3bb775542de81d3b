package apiendpoint

import (
	"context"
	"errors"

	kitjwt "github.com/go-kit/kit/auth/jwt"
	"github.com/go-kit/kit/endpoint"
	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiservice"
)

// Set collects the client endpoints of the gtdkit API gateway. It implements
// apiservice.Service, so it can be handed to anything that wants one.
type Set struct {
	LoginEndpoint  endpoint.Endpoint
	LogoutEndpoint endpoint.Endpoint
	TasksEndpoint  endpoint.Endpoint
}

var _ apiservice.Service = Set{}

func (s Set) Login(ctx context.Context, username, password string) (websvc.Tokens, error) {
	response, err := s.LoginEndpoint(ctx, LoginRequest{Username: username, Password: password})
	if err != nil {
		return websvc.Tokens{}, normalize(err)
	}

	resp, ok := response.(LoginResponse)
	if !ok {
		return websvc.Tokens{}, normalize(websvc.ErrUnexpectedPayload)
	}
	if resp.Err != nil {
		return websvc.Tokens{}, normalize(resp.Err)
	}
	return resp.Tokens, nil
}

func (s Set) Logout(ctx context.Context, accessToken string) error {
	ctx = context.WithValue(ctx, kitjwt.JWTContextKey, accessToken)

	response, err := s.LogoutEndpoint(ctx, LogoutRequest{})
	if err != nil {
		return normalize(err)
	}

	resp, ok := response.(LogoutResponse)
	if !ok {
		return normalize(websvc.ErrUnexpectedPayload)
	}
	return normalize(resp.Err)
}

func (s Set) Tasks(ctx context.Context, accessToken string) ([]websvc.Task, error) {
	ctx = context.WithValue(ctx, kitjwt.JWTContextKey, accessToken)

	response, err := s.TasksEndpoint(ctx, TasksRequest{})
	if err != nil {
		return nil, normalize(err)
	}

	resp, ok := response.(TasksResponse)
	if !ok {
		return nil, normalize(websvc.ErrUnexpectedPayload)
	}
	if resp.Err != nil {
		return nil, normalize(resp.Err)
	}
	return resp.Tasks, nil
}

// normalize turns anything that is not already an API error into a transport
// failure carrying the underlying message.
func normalize(err error) error {
	if err == nil {
		return nil
	}

	var e *websvc.Error
	if errors.As(err, &e) {
		return e
	}
	return &websvc.Error{Kind: websvc.KindTransport, Message: err.Error()}
}

func MakeLoginEndpoint(s apiservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(LoginRequest)
		t, err := s.Login(ctx, req.Username, req.Password)

		return LoginResponse{Tokens: t, Err: err}, nil
	}
}

func MakeLogoutEndpoint(s apiservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		token, ok := ctx.Value(kitjwt.JWTContextKey).(string)
		if !ok {
			return LogoutResponse{Err: websvc.ErrNotAuthenticated}, nil
		}

		_ = request.(LogoutRequest)
		err = s.Logout(ctx, token)

		return LogoutResponse{Success: err == nil, Err: err}, nil
	}
}

func MakeTasksEndpoint(s apiservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		token, ok := ctx.Value(kitjwt.JWTContextKey).(string)
		if !ok {
			return TasksResponse{Err: websvc.ErrNotAuthenticated}, nil
		}

		_ = request.(TasksRequest)
		t, err := s.Tasks(ctx, token)

		return TasksResponse{Tasks: t, Err: err}, nil
	}
}

var (
	_ endpoint.Failer = LoginResponse{}
	_ endpoint.Failer = LogoutResponse{}
	_ endpoint.Failer = TasksResponse{}
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Tokens websvc.Tokens `json:"tokens"`
	Err    error         `json:"-"`
}

func (r LoginResponse) Failed() error { return r.Err }

type LogoutRequest struct{}

type LogoutResponse struct {
	Success bool  `json:"success"`
	Err     error `json:"-"`
}

func (r LogoutResponse) Failed() error { return r.Err }

type TasksRequest struct{}

type TasksResponse struct {
	Tasks []websvc.Task `json:"tasks"`
	Err   error         `json:"-"`
}

func (r TasksResponse) Failed() error { return r.Err }
