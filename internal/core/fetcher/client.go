// Package fetcher implements the receiver's document-fetch channel: HTTP
// requests returning XML status documents.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
	"github.com/avrlink/avrlink/internal/core/engine"
)

const (
	defaultTimeout = 2 * time.Second
	maxBodyBytes   = 4 << 20
)

// Limiter throttles requests per destination and learns from their latency.
type Limiter interface {
	Acquire(ctx context.Context, destination string) error
	RecordLatency(destination string, start time.Time)
}

// Client fetches documents from one receiver.
type Client struct {
	Host    string
	Client  *http.Client
	Limiter Limiter
	Logger  core.Logger
	Timeout time.Duration

	// ProbePorts overrides the ports tried by Identify, oldest interface first.
	ProbePorts []int

	// OnFetch is called after every request with the endpoint path, the
	// HTTP status (0 on transport errors) and the elapsed time.
	OnFetch func(endpoint string, status int, elapsed time.Duration)

	port atomic.Int32
}

// New returns a client for host on port.
func New(host string, port int) *Client {
	c := &Client{Host: host}
	c.SetPort(port)
	return c
}

// SetPort switches the HTTP port, used when the receiver is identified.
func (c *Client) SetPort(port int) {
	if port <= 0 {
		port = PortLegacy
	}
	c.port.Store(int32(port))
}

// Port returns the current HTTP port.
func (c *Client) Port() int {
	p := int(c.port.Load())
	if p == 0 {
		return PortLegacy
	}
	return p
}

// Destination is the rate limiter key for the current port.
func (c *Client) Destination() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port()))
}

// FetchAppCommand posts cmds to the family's endpoint and returns the
// annotated response document.
func (c *Client) FetchAppCommand(ctx context.Context, family core.DocumentFamily, cmds []core.AppCommand) (engine.Document, error) {
	doc, err := c.PostAppCommand(ctx, family, cmds)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PostAppCommand is FetchAppCommand returning the concrete document type.
func (c *Client) PostAppCommand(ctx context.Context, family core.DocumentFamily, cmds []core.AppCommand) (*Document, error) {
	for _, cmd := range cmds {
		if cmd.Family() != family {
			return nil, fmt.Errorf("%w: cmd id %s does not belong to %s", core.ErrInvalidArgument, cmd.ID, family)
		}
	}
	body, err := BuildAppCommandBody(cmds)
	if err != nil {
		return nil, err
	}
	path := AppCommandPathFor(family)
	data, err := c.do(ctx, http.MethodPost, path, c.Port(), body)
	if err != nil {
		return nil, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if err := annotateResponse(doc, cmds); err != nil {
		return nil, err
	}
	return doc, nil
}

// FetchLegacy gets one legacy status page.
func (c *Client) FetchLegacy(ctx context.Context, endpoint string) (engine.Document, error) {
	doc, err := c.GetDocument(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument fetches and parses an XML document from path.
func (c *Client) GetDocument(ctx context.Context, path string) (*Document, error) {
	return c.GetDocumentOnPort(ctx, path, c.Port())
}

// GetDocumentOnPort fetches path from an explicit port.
func (c *Client) GetDocumentOnPort(ctx context.Context, path string, port int) (*Document, error) {
	data, err := c.do(ctx, http.MethodGet, path, port, nil)
	if err != nil {
		return nil, err
	}
	return ParseDocument(data)
}

// SendCommand issues a realtime-channel command over HTTP, used when the
// socket is not healthy.
func (c *Client) SendCommand(ctx context.Context, cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return fmt.Errorf("%w: empty command", core.ErrInvalidArgument)
	}
	_, err := c.do(ctx, http.MethodGet, CommandPath+"?"+strings.ReplaceAll(cmd, " ", "%20"), c.Port(), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, port int, body []byte) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Host == "" {
		return nil, fmt.Errorf("%w: receiver host is required", core.ErrInvalidArgument)
	}

	hostPort := net.JoinHostPort(c.Host, strconv.Itoa(port))
	target := "http://" + hostPort + path
	dest := hostPort

	if c.Limiter != nil {
		if err := c.Limiter.Acquire(ctx, dest); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	}

	endpoint := path
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.observe(endpoint, 0, elapsed)
		c.logger().Debug("Receiver request failed",
			zap.String("method", method), zap.String("url", target), zap.Error(err))
		return nil, core.ClassifyNetError(strings.ToLower(method), target, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup on HTTP response body

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if c.Limiter != nil {
		c.Limiter.RecordLatency(dest, start)
	}
	c.observe(endpoint, resp.StatusCode, elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.RequestError{URL: target, Status: resp.StatusCode}
	}
	if readErr != nil {
		return nil, core.ClassifyNetError("read", target, readErr)
	}

	c.logger().Debug("Receiver request completed",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed))
	return data, nil
}

func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (c *Client) logger() core.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return core.NopLogger()
}

func (c *Client) observe(endpoint string, status int, elapsed time.Duration) {
	if c.OnFetch != nil {
		c.OnFetch(endpoint, status, elapsed)
	}
}
