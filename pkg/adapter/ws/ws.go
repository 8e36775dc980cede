// Package ws is the notification service: it holds the live websocket
// connections of authenticated users and delivers share and revoke events
// to them.
//
// Routes:
//
//	GET  /ws?token=<credential>         live connection
//	POST /api/ws/notify-file-shared     trigger a fileShared event
//	POST /api/ws/notify-file-revoked    trigger a fileRevoked event
//	GET  /health
//
// A handshake whose credential cannot be verified is upgraded and then
// closed right away with a status clients can branch on:
//
//	4001 "Invalid token"             missing or rejected credential
//	1013 "Auth service unavailable"  the identity authority did not answer
//
// Events may also arrive from a Source such as the RabbitMQ consumer; every
// path ends in the same fanout.Dispatcher.
package ws

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/marmos91/dittoshare/internal/logger"
	"github.com/marmos91/dittoshare/internal/ratelimiter"
	"github.com/marmos91/dittoshare/pkg/adapter"
	"github.com/marmos91/dittoshare/pkg/auth"
	"github.com/marmos91/dittoshare/pkg/fanout"
	"github.com/marmos91/dittoshare/pkg/metrics"
	"github.com/marmos91/dittoshare/pkg/notify"
	"github.com/marmos91/dittoshare/pkg/registry"
)

// Close codes sent to clients whose handshake failed.
const (
	CloseInvalidToken   = 4001
	CloseTryAgainLater  = websocket.CloseTryAgainLater
	reasonInvalidToken  = "Invalid token"
	reasonAuthorityDown = "Auth service unavailable"
)

// Config configures the notification service.
//
// Default values (applied by New if zero):
//   - SendBuffer: 16 messages
//   - PingInterval: 30s
//   - PongTimeout: 60s
//   - FrameWriteTimeout: 10s
//   - MaxMessageBytes: 64 KiB
//   - MessagesPerSecond: 5, MessageBurst: 10
type Config struct {
	adapter.HTTPConfig `mapstructure:",squash"`

	// MaxConnections rejects handshakes beyond this many live connections.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// SendBuffer is the per-connection outbound queue. A connection whose
	// queue is full misses the event.
	SendBuffer int `mapstructure:"send_buffer" validate:"min=0"`

	// PingInterval is how often idle connections are pinged.
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"min=0"`

	// PongTimeout closes connections that stay silent this long.
	PongTimeout time.Duration `mapstructure:"pong_timeout" validate:"min=0"`

	// FrameWriteTimeout bounds writing one frame to a client.
	FrameWriteTimeout time.Duration `mapstructure:"frame_write_timeout" validate:"min=0"`

	// MaxMessageBytes is the largest client frame accepted.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" validate:"min=0"`

	// MessagesPerSecond and MessageBurst throttle client frames per user.
	MessagesPerSecond uint `mapstructure:"messages_per_second"`
	MessageBurst      uint `mapstructure:"message_burst"`

	// AllowedOrigins restricts browser handshakes. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// TriggerToken, when set, must be presented as a bearer credential on
	// the trigger routes.
	TriggerToken string `mapstructure:"trigger_token"`

	// MetricsLogInterval logs the connection count periodically. 0 disables.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 16
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.FrameWriteTimeout <= 0 {
		c.FrameWriteTimeout = 10 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.MessagesPerSecond == 0 {
		c.MessagesPerSecond = 5
	}
	if c.MessageBurst == 0 {
		c.MessageBurst = 10
	}
}

// Source feeds events from outside the process, e.g. a broker consumer.
type Source interface {
	Run(ctx context.Context) error
}

// Adapter is the notification service. It implements adapter.Adapter.
type Adapter struct {
	*adapter.HTTPServer

	config     Config
	verifier   auth.Verifier
	registry   *registry.Registry
	dispatcher *fanout.Dispatcher
	limiter    *ratelimiter.Keyed
	metrics    metrics.FanoutMetrics
	upgrader   websocket.Upgrader
	handler    http.Handler
	sources    []Source
	now        func() time.Time

	// active tracks live connection goroutines for graceful shutdown.
	// closeMu orders active.Add against the Wait in drain; no handler
	// joins active once closing is set.
	active    sync.WaitGroup
	connCount atomic.Int32
	closeMu   sync.Mutex
	closing   bool

	// connSemaphore is nil when MaxConnections is 0.
	connSemaphore chan struct{}

	// shutdownCtx is cancelled when shutdown starts; connections watch it.
	shutdownCtx context.Context
	cancelConns context.CancelFunc
}

// New builds the notification service around reg. The dispatcher must be
// built on the same registry.
func New(cfg Config, verifier auth.Verifier, reg *registry.Registry, dispatcher *fanout.Dispatcher, m metrics.FanoutMetrics, httpMetrics metrics.HTTPMetrics) *Adapter {
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewNoopFanoutMetrics()
	}

	var connSemaphore chan struct{}
	if cfg.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, cfg.MaxConnections)
		logger.Debug("Notifier connection limit: %d", cfg.MaxConnections)
	}

	shutdownCtx, cancelConns := context.WithCancel(context.Background())

	a := &Adapter{
		config:        cfg,
		verifier:      verifier,
		registry:      reg,
		dispatcher:    dispatcher,
		limiter:       ratelimiter.NewKeyed(cfg.MessagesPerSecond, cfg.MessageBurst),
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
		connSemaphore: connSemaphore,
		shutdownCtx:   shutdownCtx,
		cancelConns:   cancelConns,
	}
	a.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      a.checkOrigin,
	}

	router := mux.NewRouter()
	router.Use(adapter.Recover, adapter.Instrument(httpMetrics))
	router.HandleFunc("/health", adapter.HealthHandler("notifier")).Methods(http.MethodGet)
	router.HandleFunc("/ws", a.handleConnection).Methods(http.MethodGet)
	router.HandleFunc(notify.SharedPath, a.requireTriggerToken(a.notifyShared)).Methods(http.MethodPost)
	router.HandleFunc(notify.RevokedPath, a.requireTriggerToken(a.notifyRevoked)).Methods(http.MethodPost)

	a.handler = router
	a.HTTPServer = adapter.NewHTTPServer("notifier", cfg.HTTPConfig, router)
	a.HTTPServer.RegisterOnShutdown(a.beginShutdown)
	return a
}

// AddSource registers a Source started by Serve. Call before Serve.
func (a *Adapter) AddSource(src Source) {
	a.sources = append(a.sources, src)
}

// Handler returns the routed handler, for embedding and tests.
func (a *Adapter) Handler() http.Handler {
	return a.handler
}

// Dispatcher returns the dispatcher events are delivered through.
func (a *Adapter) Dispatcher() *fanout.Dispatcher {
	return a.dispatcher
}

// ActiveConnections returns the number of live connections.
func (a *Adapter) ActiveConnections() int32 {
	return a.connCount.Load()
}

// Serve runs the HTTP listener and every Source until ctx is cancelled. A
// failing Source stops the adapter so the failure is not silent.
func (a *Adapter) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sourceErr := make(chan error, len(a.sources))
	for _, src := range a.sources {
		go func(src Source) {
			if err := src.Run(runCtx); err != nil && runCtx.Err() == nil {
				sourceErr <- err
			}
		}(src)
	}

	if a.config.MetricsLogInterval > 0 {
		go a.logMetrics(runCtx)
	}

	httpDone := make(chan error, 1)
	go func() { httpDone <- a.HTTPServer.Serve(runCtx) }()

	var err error
	select {
	case err = <-httpDone:
	case srcErr := <-sourceErr:
		cancel()
		<-httpDone
		err = fmt.Errorf("notification source failed: %w", srcErr)
	}

	a.beginShutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancelShutdown()
	if drainErr := a.drain(shutdownCtx); err == nil {
		err = drainErr
	}
	return err
}

// Stop closes every connection with 1001 "going away" and waits for them
// to finish, bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) error {
	httpErr := a.HTTPServer.Stop(ctx)
	a.beginShutdown()

	if err := a.drain(ctx); err != nil {
		return err
	}
	return httpErr
}

// beginShutdown stops new handlers from joining active and tells live
// connections to close.
func (a *Adapter) beginShutdown() {
	a.closeMu.Lock()
	a.closing = true
	a.closeMu.Unlock()
	a.cancelConns()
}

// enter registers a handler with active. It fails once shutdown has begun.
func (a *Adapter) enter() bool {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	if a.closing {
		return false
	}
	a.active.Add(1)
	return true
}

// drain waits for connection goroutines, force-closing stragglers when ctx
// expires.
func (a *Adapter) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		remaining := a.connCount.Load()
		logger.Warn("Notifier shutdown timeout: force-closing %d connection(s)", remaining)
		a.forceCloseConnections()
		return fmt.Errorf("notifier shutdown timeout: %d connections force-closed", remaining)
	}
}

func (a *Adapter) forceCloseConnections() {
	for _, c := range a.registry.RemoveAll() {
		if conn, ok := c.(*Conn); ok {
			conn.terminate()
		}
	}
}

func (a *Adapter) shutdownTimeout() time.Duration {
	if a.config.ShutdownTimeout > 0 {
		return a.config.ShutdownTimeout
	}
	return 10 * time.Second
}

func (a *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(a.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Notifier metrics: active_connections=%d identities=%d",
				a.connCount.Load(), a.registry.CountIdentities())
		}
	}
}

// handleConnection authenticates and upgrades a live connection, then
// serves it until either side closes.
func (a *Adapter) handleConnection(w http.ResponseWriter, r *http.Request) {
	if !a.acquireSlot() {
		a.metrics.RecordConnectionRejected("limit")
		adapter.WriteMessage(w, http.StatusServiceUnavailable, "Too many connections")
		return
	}
	defer a.releaseSlot()

	if !a.enter() {
		a.metrics.RecordConnectionRejected("shutdown")
		adapter.WriteMessage(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}
	defer a.active.Done()

	identity, verifyErr := a.verify(r.Context(), r.URL.Query().Get("token"))

	wsConn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered the client.
		logger.Debug("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		a.metrics.RecordConnectionRejected("upgrade")
		return
	}

	if verifyErr != nil {
		code, reason, label := CloseInvalidToken, reasonInvalidToken, "invalid_token"
		if errors.Is(verifyErr, auth.ErrAuthorityUnavailable) {
			code, reason, label = CloseTryAgainLater, reasonAuthorityDown, "authority_unavailable"
		}
		logger.Debug("Refusing connection from %s: %v", r.RemoteAddr, verifyErr)
		a.metrics.RecordConnectionRejected(label)
		refuse(wsConn, code, reason, a.config.FrameWriteTimeout)
		return
	}

	conn := newConn(a, wsConn, identity)

	a.track(conn)
	defer a.untrack(conn)

	conn.serve(a.shutdownCtx)
}

func (a *Adapter) verify(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, &auth.VerificationError{Kind: auth.ErrMissingCredential}
	}
	return a.verifier.Verify(ctx, token)
}

func (a *Adapter) track(c *Conn) {
	a.registry.Register(c)

	count := a.connCount.Add(1)
	a.metrics.RecordConnectionAccepted()
	a.metrics.SetActiveConnections(int(count))
	logger.Info("User connected: %s (connection %s, active: %d)", c.identity, c.id, count)
}

func (a *Adapter) untrack(c *Conn) {
	a.registry.Deregister(c)
	if len(a.registry.ConnectionsFor(c.identity)) == 0 {
		a.limiter.Forget(c.identity)
	}

	count := a.connCount.Add(-1)
	a.metrics.RecordConnectionClosed()
	a.metrics.SetActiveConnections(int(count))
	logger.Info("User disconnected: %s (connection %s, active: %d)", c.identity, c.id, count)
}

func (a *Adapter) acquireSlot() bool {
	if a.connSemaphore == nil {
		return true
	}
	select {
	case a.connSemaphore <- struct{}{}:
		return true
	default:
		return false
	}
}

func (a *Adapter) releaseSlot() {
	if a.connSemaphore != nil {
		<-a.connSemaphore
	}
}

func (a *Adapter) checkOrigin(r *http.Request) bool {
	if len(a.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(a.config.AllowedOrigins, r.Header.Get("Origin"))
}

// handleClientFrame acts on one frame received from conn.
func (a *Adapter) handleClientFrame(ctx context.Context, conn *Conn, data []byte) {
	frame, err := decodeClientEvent(data)
	if err != nil {
		logger.Debug("Ignoring frame from %s: %v", conn.identity, err)
		return
	}
	if frame.Event != notify.ClientEventShareFile {
		logger.Debug("Ignoring %q event from %s", frame.Event, conn.identity)
		return
	}

	event := frame.Payload.Event(a.now())
	res, err := a.dispatcher.Dispatch(ctx, event)
	if err != nil {
		logger.Debug("Dropping shareFile from %s: %v", conn.identity, err)
		return
	}
	logger.Debug("Relayed shareFile from %s to %s (delivered=%d)", conn.identity, event.TargetIdentity, res.Delivered)
}

func (a *Adapter) requireTriggerToken(next http.HandlerFunc) http.HandlerFunc {
	if a.config.TriggerToken == "" {
		return next
	}
	want := []byte(a.config.TriggerToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(auth.BearerToken(r.Header.Get("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			adapter.WriteMessage(w, http.StatusUnauthorized, "Invalid trigger token")
			return
		}
		next(w, r)
	}
}

func (a *Adapter) notifyShared(w http.ResponseWriter, r *http.Request) {
	var req notify.SharedRequest
	if err := adapter.DecodeJSON(w, r, &req); err != nil {
		adapter.WriteMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	a.trigger(w, r, req.Event(a.now()))
}

func (a *Adapter) notifyRevoked(w http.ResponseWriter, r *http.Request) {
	var req notify.RevokedRequest
	if err := adapter.DecodeJSON(w, r, &req); err != nil {
		adapter.WriteMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	a.trigger(w, r, req.Event(a.now()))
}

type triggerResponse struct {
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
}

func (a *Adapter) trigger(w http.ResponseWriter, r *http.Request, event notify.Event) {
	res, err := a.dispatcher.Dispatch(r.Context(), event)
	if err != nil {
		adapter.WriteMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	adapter.WriteJSON(w, http.StatusOK, triggerResponse{Delivered: res.Delivered, Skipped: res.Skipped})
}
