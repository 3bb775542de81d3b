package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/go-kit/kit/log"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	consulsd "github.com/go-kit/kit/sd/consul"
	"github.com/gorilla/securecookie"
	"github.com/hashicorp/consul/api"
	"github.com/ichigozero/gtdkit/web/websvc"
	"github.com/ichigozero/gtdkit/web/websvc/client"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apiservice"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/apitransport"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/session"
	"github.com/ichigozero/gtdkit/web/websvc/pkg/webtransport"
	"github.com/oklog/oklog/pkg/group"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/twinj/uuid"
)

func main() {
	fs := flag.NewFlagSet("websvc", flag.ExitOnError)
	var (
		httpAddr = fs.String(
			"http.addr",
			getEnv("HTTP_ADDR", ":3000"),
			"HTTP listen address",
		)
		apiURL = fs.String(
			"api.url",
			getEnv("API_HOSTNAME", "http://localhost:8000"),
			"API gateway base URL, used when Consul is not configured",
		)
		consulAddr = fs.String(
			"consul.addr",
			getEnv("CONSUL_ADDR", ""),
			"Consul agent address; enables API gateway discovery",
		)
	)

	fs.Usage = usageFor(fs, os.Args[0]+" [flags]")
	fs.Parse(os.Args[1:])

	var logger log.Logger
	{
		logger = log.NewLogfmtLogger(os.Stderr)
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}

	cookies := securecookie.New([]byte(websvc.CookieHashKey), []byte(websvc.CookieBlockKey))
	if _, err := cookies.Encode(websvc.CookieName, "probe"); err != nil {
		logger.Log("during", "cookie setup", "err", err)
		os.Exit(1)
	}

	var (
		requestCount = kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: "gtdkit",
			Subsystem: "websvc",
			Name:      "api_request_count",
			Help:      "Number of API gateway requests made.",
		}, []string{"method"})
		requestLatency = kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
			Namespace: "gtdkit",
			Subsystem: "websvc",
			Name:      "api_request_latency_seconds",
			Help:      "Duration of API gateway requests in seconds.",
		}, []string{"method"})
		authenticated = kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: "gtdkit",
			Subsystem: "websvc",
			Name:      "authenticated_sessions",
			Help:      "Number of browser sessions currently holding tokens.",
		}, []string{})
	)

	var (
		registrar *consulsd.Registrar
		upstream  apiservice.Service
	)
	if len(*consulAddr) > 0 {
		consulConfig := api.DefaultConfig()
		consulConfig.Address = *consulAddr
		consulClient, err := api.NewClient(consulConfig)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}

		host, port, err := net.SplitHostPort(*httpAddr)
		if err != nil {
			logger.Log("err", err)
			os.Exit(1)
		}
		if host == "" {
			host = "localhost"
		}

		p, _ := strconv.Atoi(port)
		asr := &api.AgentServiceRegistration{
			ID:      uuid.NewV4().String(),
			Name:    "websvc",
			Address: host,
			Port:    p,
		}

		sdClient := consulsd.NewClient(consulClient)
		registrar = consulsd.NewRegistrar(sdClient, asr, logger)
		registrar.Register()
		defer registrar.Deregister()

		if upstream, err = client.New(sdClient, logger); err != nil {
			logger.Log("during", "api discovery setup", "err", err)
			registrar.Deregister()
			os.Exit(1)
		}
	} else {
		var err error
		upstream, err = apitransport.NewHTTPClient(*apiURL, logger)
		if err != nil {
			logger.Log("during", "api client setup", "err", err)
			os.Exit(1)
		}
	}

	service := apiservice.New(upstream, log.With(logger, "component", "api"), requestCount, requestLatency)

	sessions := session.NewRegistry(service)
	{
		sessionLogger := log.With(logger, "component", "session")
		sessions.Subscribe(func(_ string, prev, next websvc.AuthState) {
			from, to := webtransport.StateOf(prev), webtransport.StateOf(next)
			if from == to {
				return
			}
			if to == webtransport.Authenticated {
				authenticated.Add(1)
				sessionLogger.Log("from", from, "to", to, "expires_at", next.Tokens.ExpiresAt)
				return
			}
			authenticated.Add(-1)
			sessionLogger.Log("from", from, "to", to)
		})
	}

	httpHandler := webtransport.NewHTTPHandler(sessions, service, cookies, log.With(logger, "component", "http"))

	var g group.Group
	{
		httpListener, err := net.Listen("tcp", *httpAddr)
		if err != nil {
			logger.Log("transport", "HTTP", "during", "Listen", "err", err)
			if registrar != nil {
				registrar.Deregister()
			}
			os.Exit(1)
		}
		g.Add(func() error {
			logger.Log("transport", "HTTP", "addr", *httpAddr)
			return http.Serve(httpListener, httpHandler)
		}, func(error) {
			httpListener.Close()
		})
	}
	{
		// This function just sits and waits for ctrl-C.
		cancelInterrupt := make(chan struct{})
		g.Add(func() error {
			c := make(chan os.Signal, 1)
			signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-c:
				return fmt.Errorf("received signal %s", sig)
			case <-cancelInterrupt:
				return nil
			}
		}, func(error) {
			close(cancelInterrupt)
		})
	}
	logger.Log("exit", g.Run())
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}

func getEnv(key, fallback string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		value = fallback
	}
	return value
}
