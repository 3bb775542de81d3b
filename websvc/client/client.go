package client

import (
	"context"
	"io"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/sd"
	consulsd "github.com/go-kit/kit/sd/consul"
	"github.com/go-kit/kit/sd/lb"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiendpoint"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiservice"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apitransport"
)

// ServiceName is the Consul name of the API gateway.
const ServiceName = "apigateway"

// New returns endpoints balanced round-robin over the API gateway instances
// registered in Consul. Every call goes to exactly one instance; there are no
// retries.
func New(apiclient consulsd.Client, logger log.Logger) (apiendpoint.Set, error) {
	var (
		tags        = []string{}
		passingOnly = true
		instancer   = consulsd.NewInstancer(apiclient, logger, ServiceName, tags, passingOnly)
	)
	return NewFromInstancer(instancer, logger), nil
}

func NewFromInstancer(instancer sd.Instancer, logger log.Logger) apiendpoint.Set {
	endpoints := apiendpoint.Set{}
	{
		factory := factoryFor(apiendpoint.MakeLoginEndpoint, logger)
		endpointer := sd.NewEndpointer(instancer, factory, logger)
		endpoints.LoginEndpoint = once(lb.NewRoundRobin(endpointer))
	}
	{
		factory := factoryFor(apiendpoint.MakeLogoutEndpoint, logger)
		endpointer := sd.NewEndpointer(instancer, factory, logger)
		endpoints.LogoutEndpoint = once(lb.NewRoundRobin(endpointer))
	}
	{
		factory := factoryFor(apiendpoint.MakeTasksEndpoint, logger)
		endpointer := sd.NewEndpointer(instancer, factory, logger)
		endpoints.TasksEndpoint = once(lb.NewRoundRobin(endpointer))
	}
	return endpoints
}

// once picks an instance and calls it a single time.
func once(b lb.Balancer) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		e, err := b.Endpoint()
		if err != nil {
			return nil, err
		}
		return e(ctx, request)
	}
}

func factoryFor(makeEndpoint func(apiservice.Service) endpoint.Endpoint, logger log.Logger) sd.Factory {
	return func(instance string) (endpoint.Endpoint, io.Closer, error) {
		service, err := apitransport.NewHTTPClient(instance, logger)
		if err != nil {
			return nil, nil, err
		}
		return makeEndpoint(service), nil, nil
	}
}
