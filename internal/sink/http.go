package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/http2"

	"github.com/rescale/runwatch/internal/constants"
	"github.com/rescale/runwatch/internal/logging"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

// HTTPPublisher POSTs each message body to a URL, retrying transient failures.
type HTTPPublisher struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPPublisher creates a publisher for target. retryMax <= 0 uses the default.
func NewHTTPPublisher(target string, retryMax int, log *logging.Logger) (*HTTPPublisher, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("http sink: invalid target URL %q", target)
	}
	if retryMax <= 0 {
		retryMax = constants.SinkRetryMax
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = constants.SinkRetryWaitMin
	retryClient.RetryWaitMax = constants.SinkRetryWaitMax
	retryClient.HTTPClient.Transport = newTransport()
	retryClient.HTTPClient.Timeout = constants.SinkRequestTimeout
	retryClient.Logger = &retryLogger{log: logging.OrNop(log)}

	return &HTTPPublisher{url: target, client: retryClient}, nil
}

// newTransport honours HTTP(S)_PROXY/NO_PROXY and negotiates HTTP/2 on TLS
// targets. HTTP/2 is left off when a proxy is configured.
func newTransport() *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	proxyCfg := httpproxy.FromEnvironment()
	proxyFunc := proxyCfg.ProxyFunc()
	tr.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	if proxyCfg.HTTPProxy == "" && proxyCfg.HTTPSProxy == "" {
		_ = http2.ConfigureTransport(tr)
	}
	return tr
}

func (p *HTTPPublisher) Name() string   { return KindHTTP }
func (p *HTTPPublisher) Target() string { return p.url }

func (p *HTTPPublisher) Publish(ctx context.Context, m *Message) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(m.Body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Runwatch-Message-Id", m.ID)
	req.Header.Set("X-Runwatch-Message-Kind", m.Kind)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver message: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("message rejected: %s", resp.Status)
	}
	return nil
}
