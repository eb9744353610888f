// Package rpc talks to controllers over a JSON request/response protocol
// carried on a TLS websocket.
package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDialTimeout = 10 * time.Second
	DefaultCallTimeout = 60 * time.Second

	writeWait = 10 * time.Second
	readLimit = 16 << 20
)

var (
	ErrInvalidCACert = errors.New("rpc: invalid ca certificate")
	ErrLoginFailed   = errors.New("rpc: login failed")
)

type request struct {
	RequestID uint64         `json:"request-id"`
	Type      string         `json:"type"`
	Version   int            `json:"version"`
	Request   string         `json:"request"`
	Params    map[string]any `json:"params,omitempty"`
}

// Connector dials controllers over wss.
type Connector struct {
	dialTimeout time.Duration
	callTimeout time.Duration
	serverName  string
	baseTLS     *tls.Config
}

type Option func(*Connector)

func WithDialTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithServerName overrides the name verified against the controller certificate.
func WithServerName(name string) Option {
	return func(c *Connector) {
		c.serverName = strings.TrimSpace(name)
	}
}

// WithTLSConfig sets the base TLS configuration cloned for every dial.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Connector) {
		c.baseTLS = cfg
	}
}

func NewConnector(opts ...Option) *Connector {
	c := &Connector{dialTimeout: DefaultDialTimeout, callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ transport.Connector = (*Connector)(nil)

// Connect dials the controller api and logs in with the target credentials.
func (c *Connector) Connect(ctx context.Context, tgt target.Target) (transport.Session, error) {
	if strings.TrimSpace(tgt.Endpoint) == "" {
		return nil, fmt.Errorf("%w: endpoint is required for %s", target.ErrInvalidTarget, tgt.Identity())
	}
	tlsCfg, err := c.tlsConfig(tgt)
	if err != nil {
		return nil, err
	}
	s := &Session{connector: c, tgt: tgt, tls: tlsCfg, models: make(map[string]*conn)}
	controller, err := s.open(ctx, "")
	if err != nil {
		return nil, err
	}
	s.controller = controller
	log.Debug().Str("target", tgt.Identity()).Str("endpoint", tgt.Endpoint).Msg("rpc.Connect")
	return s, nil
}

func (c *Connector) tlsConfig(tgt target.Target) (*tls.Config, error) {
	var cfg *tls.Config
	if c.baseTLS != nil {
		cfg = c.baseTLS.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if c.serverName != "" {
		cfg.ServerName = c.serverName
	}
	if pemData := strings.TrimSpace(tgt.CACert); pemData != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(pemData)) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCACert, tgt.Identity())
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func apiURL(endpoint, modelUUID string) string {
	u := url.URL{Scheme: "wss", Host: strings.TrimSpace(endpoint), Path: "/api"}
	if modelUUID != "" {
		u.Path = "/model/" + url.PathEscape(modelUUID) + "/api"
	}
	return u.String()
}

// Session is a logged-in controller connection plus lazily opened model
// connections.
type Session struct {
	connector  *Connector
	tgt        target.Target
	tls        *tls.Config
	controller *conn

	mu     sync.Mutex
	closed bool
	models map[string]*conn
}

var _ transport.Session = (*Session)(nil)

func (s *Session) Invoke(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	r, ok := routes[op]
	if !ok {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnsupportedOp, op)
	}
	c, err := s.connFor(ctx, r, params)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.connector.callTimeout)
	defer cancel()
	resp, err := c.call(callCtx, request{Type: r.facade, Version: r.version, Request: r.request, Params: r.params(params)})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &transport.RemoteError{Op: op, Code: resp.ErrorCode, Message: resp.Error}
	}
	return resp.Response, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.models)+1)
	if s.controller != nil {
		conns = append(conns, s.controller)
	}
	for _, c := range s.models {
		conns = append(conns, c)
	}
	s.models = map[string]*conn{}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) connFor(ctx context.Context, r route, params map[string]any) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrSessionClosed
	}
	modelUUID, _ := params[ParamModelUUID].(string)
	if !r.modelScoped || modelUUID == "" {
		return s.controller, nil
	}
	if c, ok := s.models[modelUUID]; ok {
		return c, nil
	}
	c, err := s.open(ctx, modelUUID)
	if err != nil {
		return nil, err
	}
	s.models[modelUUID] = c
	return c, nil
}

func (s *Session) open(ctx context.Context, modelUUID string) (*conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.connector.dialTimeout)
	defer cancel()
	c, err := dial(dialCtx, apiURL(s.tgt.Endpoint, modelUUID), s.tls, s.connector.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", s.tgt.Identity(), err)
	}
	if err := c.login(dialCtx, s.tgt.User, s.tgt.Password); err != nil {
		_ = c.close()
		return nil, err
	}
	return c, nil
}

// conn is one websocket with a reader goroutine that routes replies by id.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64
	pending *pending
	done    chan struct{}
	once    sync.Once
}

func dial(ctx context.Context, rawURL string, tlsCfg *tls.Config, timeout time.Duration) (*conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: timeout,
	}
	ws, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(readLimit)
	c := &conn{ws: ws, pending: newPending(), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *conn) login(ctx context.Context, user, password string) error {
	params := map[string]any{
		"auth-tag":    "user-" + user,
		"credentials": password,
	}
	resp, err := c.call(ctx, request{Type: "Admin", Version: 3, Request: "Login", Params: params})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if resp.Error != "" {
		code := resp.ErrorCode
		if code == "" {
			code = transport.CodeUnauthorized
		}
		return fmt.Errorf("%w: %w", ErrLoginFailed, &transport.RemoteError{Op: "login", Code: code, Message: resp.Error})
	}
	return nil
}

func (c *conn) call(ctx context.Context, req request) (response, error) {
	id := c.nextID.Add(1)
	req.RequestID = id
	ch, err := c.pending.register(id)
	if err != nil {
		return response{}, err
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.pending.unregister(id)
		return response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			if err := c.pending.failure(); err != nil {
				return response{}, err
			}
			return response{}, transport.ErrSessionClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.pending.unregister(id)
		return response{}, ctx.Err()
	}
}

func (c *conn) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.pending.failAll(fmt.Errorf("%w: %v", transport.ErrSessionClosed, err))
			return
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warn().Err(err).Msg("rpc.conn.readLoop malformed frame")
			continue
		}
		if !c.pending.resolve(resp) {
			log.Debug().Uint64("request_id", resp.RequestID).Msg("rpc.conn.readLoop unmatched reply")
		}
	}
}

func (c *conn) close() error {
	var err error
	c.once.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		err = c.ws.Close()
		<-c.done
		c.pending.failAll(transport.ErrSessionClosed)
	})
	return err
}
