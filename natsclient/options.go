package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/edgefilter/metric"
)

// Logger receives the client's connection events
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger forwards to slog.Default. Debug output is dropped.
type defaultLogger struct{}

func (defaultLogger) Printf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (defaultLogger) Errorf(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...), "component", "natsclient")
}

func (defaultLogger) Debugf(string, ...any) {}

// ClientOption configures a Client. An option that returns an error makes
// NewClient fail.
type ClientOption func(*Client) error

// Connection behaviour

// WithName sets the name the server shows for this connection
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout bounds a single dial
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("connect timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithMaxReconnects caps reconnection attempts. -1 retries forever and 0
// disables reconnection.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) error {
		if n < -1 {
			return fmt.Errorf("max reconnects must be -1 or more, got %d", n)
		}
		c.maxReconnects = n
		return nil
	}
}

// WithReconnectWait sets the pause between reconnection attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight messages.
// Zero keeps the default.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.drainTimeout = d
		}
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many failures in a row open the
// circuit. Zero keeps the default.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold > 0 {
			c.circuitThreshold = threshold
		}
		return nil
	}
}

// Authentication

// WithCredentials authenticates with a user and password
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken authenticates with a bearer token, such as the shared access
// key carried by a connection string
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS. The client certificate pair and the CA file are
// each optional.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("TLS cert and key must be given together")
		}
		c.tlsEnabled = true
		c.tlsCertFile = certFile
		c.tlsKeyFile = keyFile
		c.tlsCAFile = caFile
		return nil
	}
}

// JetStream publishing

// WithPublishAsyncMaxPending bounds async publishes awaiting an ack. Further
// PublishMsgAsync calls stall until acks arrive.
func WithPublishAsyncMaxPending(n int) ClientOption {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("publish async max pending must be positive, got %d", n)
		}
		c.asyncMaxPending = n
		return nil
	}
}

// WithPublishAsyncTimeout fails async publish futures that receive no ack in d
func WithPublishAsyncTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.asyncPublishTimeout = d
		return nil
	}
}

// Observability

// WithLogger routes connection events to logger. A nil logger restores the
// default.
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			logger = defaultLogger{}
		}
		c.logger = logger
		return nil
	}
}

// WithReconnectCallback runs fn after every successful reconnection
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback runs fn whenever the connection goes up or down
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithMetrics exports gauges for the streams and consumers this client
// creates. A nil registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}
		metrics, err := newJetStreamMetrics(registry)
		if err != nil {
			return err
		}
		c.jsMetrics = metrics
		return nil
	}
}

// WithMetricsInterval sets how often tracked streams and consumers are
// polled. Zero keeps the default.
func WithMetricsInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.metricsInterval = d
		}
		return nil
	}
}
