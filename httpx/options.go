package httpx

import (
	"net/http"
	"time"
)

type ServerOptions struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Middlewares     []MiddlewareFunc
}

type ServerOption func(*ServerOptions)

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		Address:         ":3000",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Middlewares:     []MiddlewareFunc{RecoverMiddleware()},
	}
}

func WithAddress(addr string) ServerOption {
	return func(o *ServerOptions) {
		if addr != "" {
			o.Address = addr
		}
	}
}

func WithTimeouts(read, write time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if read > 0 {
			o.ReadTimeout = read
		}
		if write > 0 {
			o.WriteTimeout = write
		}
	}
}

// WithShutdownTimeout bounds how long Start waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(o *ServerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// AppendMiddlewares runs mw after the recover middleware.
func AppendMiddlewares(mw ...MiddlewareFunc) ServerOption {
	return func(o *ServerOptions) {
		if len(mw) > 0 {
			o.Middlewares = append(o.Middlewares, mw...)
		}
	}
}

type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Headers   map[string]string
	Transport http.RoundTripper
	Retries   int
	RetryWait time.Duration
}

type ClientOption func(*ClientOptions)

// DefaultClientTimeout bounds every outbound call when the caller's context
// carries no earlier deadline.
const DefaultClientTimeout = 10 * time.Second

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:   DefaultClientTimeout,
		Headers:   map[string]string{"Accept": "application/json", "User-Agent": "oasis"},
		RetryWait: 100 * time.Millisecond,
	}
}

func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		if url != "" {
			o.BaseURL = url
		}
	}
}

func WithClientTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithHeaders adds default headers to every request.
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}

// WithTransport replaces the round tripper used by the client.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *ClientOptions) {
		o.Transport = rt
	}
}

// WithRetries retries a GET up to n times when the endpoint is unreachable or
// answers 5xx. 4xx answers are final and other methods are sent once.
func WithRetries(n int, wait time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if n >= 0 {
			o.Retries = n
		}
		if wait > 0 {
			o.RetryWait = wait
		}
	}
}
