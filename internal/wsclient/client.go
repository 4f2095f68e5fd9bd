// Package wsclient provides the resilient WebSocket foundation shared by
// every streaming connection in streamintel: the transcription ingest
// client, the events ingest client, and the transcription egress/producer
// client all embed a [Client] rather than dialing github.com/coder/websocket
// directly.
//
// A [Client] owns connection-state transitions, exponential-backoff
// reconnection with jitter, a circuit breaker, heartbeat liveness tracking,
// and a set of tracked background tasks that are cancelled and awaited (with
// a ceiling) on disconnect. Callers supply the actual wire behavior via
// [Hooks]; the client never touches application payloads directly.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/streamintel/internal/resilience"
)

// State is a connection-state value in the [Client] state machine.
type State int

const (
	// StateDisconnected is the initial state and the state after a
	// deliberate Disconnect.
	StateDisconnected State = iota

	// StateConnecting indicates a connect attempt (initial or reconnect)
	// is in flight.
	StateConnecting

	// StateConnected indicates the connection is live and Listen is
	// running.
	StateConnected

	// StateReconnecting indicates the client is waiting out a backoff
	// delay before the next connect attempt.
	StateReconnecting

	// StateFailed indicates the client exhausted MaxAttempts and gave up.
	// Only a fresh call to [Client.Run] restarts it.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Hooks is implemented by callers to supply the actual wire behavior for a
// [Client]. Connect establishes the transport (dial, join frame, …); Listen
// blocks, reading and dispatching frames, and returns an error when the
// remote closes the connection or the frame stream otherwise ends; Disconnect
// releases transport resources. Listen must return promptly when ctx is
// cancelled.
type Hooks interface {
	Connect(ctx context.Context) error
	Listen(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// HeartbeatHook is an optional [Hooks] extension. When the supplied Hooks
// value also implements HeartbeatHook, the client spawns a background
// heartbeat loop that calls SendHeartbeat every HeartbeatInterval.
type HeartbeatHook interface {
	SendHeartbeat(ctx context.Context) error
}

// Config tunes a [Client]'s reconnection policy, circuit breaker, and
// heartbeat. Zero-value fields are replaced with the defaults named below.
type Config struct {
	// Name identifies this client in logs and metrics, e.g.
	// "ingest.transcription".
	Name string

	// ReconnectBase is the initial backoff delay. Default 1s.
	ReconnectBase time.Duration

	// ReconnectCap is the maximum backoff delay. Default 60s.
	ReconnectCap time.Duration

	// MaxAttempts is the number of reconnect attempts before transitioning
	// to Failed. Default 10.
	MaxAttempts int

	// CircuitThreshold is the consecutive-failure count that opens the
	// circuit breaker. Default 5.
	CircuitThreshold int

	// CircuitTimeout is how long the circuit stays open. Default 300s.
	CircuitTimeout time.Duration

	// HeartbeatInterval is the period between heartbeat calls, when Hooks
	// implements [HeartbeatHook]. Default 30s.
	HeartbeatInterval time.Duration

	// OnCircuitTrip, if non-nil, is forwarded as the underlying circuit
	// breaker's OnTrip callback.
	OnCircuitTrip func(name string)
}

func (c *Config) setDefaults() {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = 300 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// backgroundTaskShutdown is the ceiling [Client.Disconnect] waits for tracked
// background tasks to finish before abandoning them.
const backgroundTaskShutdown = 5 * time.Second

// heartbeatFailureThreshold is the number of consecutive heartbeat failures
// that force a reconnect cycle.
const heartbeatFailureThreshold = 3

// Status is a point-in-time snapshot of a [Client]'s health, suitable for
// exposing via the /status HTTP endpoint.
type Status struct {
	Name               string
	State              State
	ReconnectAttempts  int
	TotalReconnects    int
	FailedReconnects   int
	SuccessfulConnects int
	HeartbeatFailures  int
	LastHeartbeat      time.Time
	BackgroundTasks    int
	CircuitState       resilience.State
}

// Client implements the resilient WebSocket foundation described by the
// service's ingest/egress clients: state machine, exponential backoff with
// jitter, circuit breaker, heartbeat liveness, and tracked background tasks.
//
// All exported methods are safe for concurrent use.
type Client struct {
	cfg   Config
	hooks Hooks
	cb    *resilience.CircuitBreaker

	mu                 sync.Mutex
	state              State
	reconnectAttempts  int
	totalReconnects    int
	failedReconnects   int
	successfulConnects int
	heartbeatFailures  int
	lastHeartbeat      time.Time
	listeners          []func(old, new State)

	tasksMu sync.Mutex
	tasks   map[int]context.CancelFunc
	taskWG  sync.WaitGroup
	nextID  int
}

// New creates a [Client] with the given configuration and hooks.
func New(cfg Config, hooks Hooks) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:   cfg,
		hooks: hooks,
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         cfg.Name,
			MaxFailures:  cfg.CircuitThreshold,
			ResetTimeout: cfg.CircuitTimeout,
			OnTrip:       cfg.OnCircuitTrip,
		}),
		state: StateDisconnected,
		tasks: make(map[int]context.CancelFunc),
	}
}

// OnStateChange registers a callback invoked whenever the client transitions
// between states. Callbacks that take too long are the caller's
// responsibility to guard; per spec, an observer that raises must not poison
// the state machine, so OnStateChange callbacks are invoked inside a
// recover-guarded wrapper and any panic is logged and swallowed.
func (c *Client) OnStateChange(fn func(old, new State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// State returns the client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the client's health counters.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasksMu.Lock()
	nTasks := len(c.tasks)
	c.tasksMu.Unlock()

	return Status{
		Name:               c.cfg.Name,
		State:              c.state,
		ReconnectAttempts:  c.reconnectAttempts,
		TotalReconnects:    c.totalReconnects,
		FailedReconnects:   c.failedReconnects,
		SuccessfulConnects: c.successfulConnects,
		HeartbeatFailures:  c.heartbeatFailures,
		LastHeartbeat:      c.lastHeartbeat,
		BackgroundTasks:    nTasks,
		CircuitState:       c.cb.State(),
	}
}

// HealthCheck reports whether the client is connected and its heartbeat is
// current. It returns false if the client is not in StateConnected, or if a
// heartbeat hook is configured and more than 2*HeartbeatInterval has elapsed
// since the last heartbeat.
func (c *Client) HealthCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return false
	}
	if _, ok := c.hooks.(HeartbeatHook); !ok {
		return true
	}
	if c.lastHeartbeat.IsZero() {
		// Heartbeat loop hasn't fired yet; give it a grace window.
		return true
	}
	return time.Since(c.lastHeartbeat) <= 2*c.cfg.HeartbeatInterval
}

// setState transitions the client to newState and notifies listeners. Must
// NOT be called with c.mu held.
func (c *Client) setState(newState State) {
	c.mu.Lock()
	old := c.state
	c.state = newState
	listeners := append([]func(State, State){}, c.listeners...)
	c.mu.Unlock()

	if old == newState {
		return
	}
	slog.Info("wsclient state transition", "name", c.cfg.Name, "from", old, "to", newState)

	for _, fn := range listeners {
		c.notifyListener(fn, old, newState)
	}
}

// notifyListener invokes fn, recovering from any panic so one bad observer
// cannot break the state machine.
func (c *Client) notifyListener(fn func(State, State), old, new State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("wsclient state listener panicked", "name", c.cfg.Name, "recovered", r)
		}
	}()
	fn(old, new)
}

// connectOnce attempts a single connect through the circuit breaker.
func (c *Client) connectOnce(ctx context.Context) error {
	return c.cb.Execute(func() error {
		return c.hooks.Connect(ctx)
	})
}

// Run drives the client's full lifecycle: connect, listen, and reconnect on
// failure or remote close, until ctx is cancelled or MaxAttempts is
// exhausted (StateFailed). It blocks until the loop exits and returns the
// terminal error, if any; ctx cancellation returns nil. Disconnect does not
// end Run: if Run is still active, a Listen return that follows a Disconnect
// is handled like a remote close and Run reconnects.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.reconnectAttempts = 0
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		default:
		}

		c.setState(StateConnecting)
		err := c.connectOnce(ctx)
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				slog.Warn("wsclient connect short-circuited", "name", c.cfg.Name)
			} else {
				slog.Warn("wsclient connect failed", "name", c.cfg.Name, "error", err)
			}

			c.mu.Lock()
			c.reconnectAttempts++
			attempt := c.reconnectAttempts
			c.failedReconnects++
			c.mu.Unlock()

			if attempt >= c.cfg.MaxAttempts {
				c.setState(StateFailed)
				return fmt.Errorf("wsclient %s: giving up after %d attempts: %w", c.cfg.Name, attempt, err)
			}

			c.setState(StateReconnecting)
			if !c.sleepBackoff(ctx, attempt) {
				c.setState(StateDisconnected)
				return nil
			}
			continue
		}

		// Connected. connCtx is scoped to this connection iteration so the
		// heartbeat loop can force Listen to return on threshold failures
		// without tearing down the outer ctx driving Run itself.
		c.mu.Lock()
		c.reconnectAttempts = 0
		c.successfulConnects++
		c.mu.Unlock()
		c.setState(StateConnected)

		connCtx, connCancel := context.WithCancel(ctx)
		hbCancel := c.maybeStartHeartbeat(connCtx, connCancel)

		listenErr := c.hooks.Listen(connCtx)

		if hbCancel != nil {
			hbCancel()
		}
		connCancel()

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return nil
		default:
		}

		if listenErr != nil {
			slog.Warn("wsclient listen ended", "name", c.cfg.Name, "error", listenErr)
		}

		c.mu.Lock()
		c.totalReconnects++
		c.mu.Unlock()
		c.setState(StateReconnecting)
		// Loop back around to reconnect; attempt counting restarts from the
		// connected state's fresh reconnectAttempts=0.
	}
}

// sleepBackoff waits the exponential-backoff-with-jitter delay for the given
// attempt number (1-indexed), returning false if ctx is cancelled first.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := backoffDelay(c.cfg.ReconnectBase, c.cfg.ReconnectCap, attempt)
	slog.Info("wsclient backing off before reconnect",
		"name", c.cfg.Name, "attempt", attempt, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoffDelay computes min(base*2^(attempt-1), capDelay) * (1 + U[0, 0.1]).
func backoffDelay(base, capDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > capDelay || d <= 0 {
			d = capDelay
			break
		}
	}
	if d > capDelay {
		d = capDelay
	}
	jitter := 1.0 + rand.Float64()*0.1
	return time.Duration(float64(d) * jitter)
}

// Disconnect cancels all tracked background tasks (awaiting them with a 5s
// ceiling), releases the transport via Hooks.Disconnect, and transitions to
// StateDisconnected.
func (c *Client) Disconnect(ctx context.Context) error {
	c.cancelTasks()

	dctx, cancel := context.WithTimeout(ctx, backgroundTaskShutdown)
	defer cancel()
	err := c.hooks.Disconnect(dctx)
	c.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("wsclient %s: disconnect: %w", c.cfg.Name, err)
	}
	return nil
}

// maybeStartHeartbeat starts the heartbeat background loop if Hooks
// implements [HeartbeatHook], returning a cancel func for the caller to
// invoke when the connection ends. forceReconnect is called by the loop on
// the third consecutive heartbeat failure to cancel the current connection's
// ctx, making Listen return so Run reconnects. Returns nil if no heartbeat
// hook is configured.
func (c *Client) maybeStartHeartbeat(ctx context.Context, forceReconnect context.CancelFunc) context.CancelFunc {
	hb, ok := c.hooks.(HeartbeatHook)
	if !ok {
		return nil
	}

	hbCtx, id := c.spawn(ctx)
	c.mu.Lock()
	c.heartbeatFailures = 0
	c.mu.Unlock()

	c.taskWG.Add(1)
	go func() {
		defer c.taskWG.Done()
		defer c.finishTask(id)
		c.heartbeatLoop(hbCtx, hb, forceReconnect)
	}()

	return func() { c.cancelTask(id) }
}

// heartbeatLoop calls hb.SendHeartbeat every HeartbeatInterval. Three
// consecutive failures force a reconnect: forceReconnect cancels the
// connection's ctx, which makes Listen return and Run loop back around to
// reconnect, rather than waiting on Listen to eventually notice a half-dead
// socket on its own.
func (c *Client) heartbeatLoop(ctx context.Context, hb HeartbeatHook, forceReconnect context.CancelFunc) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := hb.SendHeartbeat(ctx); err != nil {
				c.mu.Lock()
				c.heartbeatFailures++
				failures := c.heartbeatFailures
				c.mu.Unlock()
				slog.Warn("wsclient heartbeat failed",
					"name", c.cfg.Name, "error", err, "consecutive_failures", failures)
				if failures >= heartbeatFailureThreshold {
					slog.Warn("wsclient heartbeat failure threshold reached, forcing reconnect",
						"name", c.cfg.Name)
					forceReconnect()
					return
				}
				continue
			}
			c.mu.Lock()
			c.heartbeatFailures = 0
			c.lastHeartbeat = time.Now()
			c.mu.Unlock()
		}
	}
}

// spawn registers a new tracked background task derived from parent and
// returns its context and id.
func (c *Client) spawn(parent context.Context) (context.Context, int) {
	taskCtx, cancel := context.WithCancel(parent)

	c.tasksMu.Lock()
	id := c.nextID
	c.nextID++
	c.tasks[id] = cancel
	c.tasksMu.Unlock()

	return taskCtx, id
}

// cancelTask cancels and deregisters the task with the given id.
func (c *Client) cancelTask(id int) {
	c.tasksMu.Lock()
	if cancel, ok := c.tasks[id]; ok {
		cancel()
		delete(c.tasks, id)
	}
	c.tasksMu.Unlock()
}

// finishTask deregisters a completed task without cancelling it again.
func (c *Client) finishTask(id int) {
	c.tasksMu.Lock()
	delete(c.tasks, id)
	c.tasksMu.Unlock()
}

// cancelTasks cancels every tracked background task and waits for them to
// finish, abandoning stragglers after backgroundTaskShutdown.
func (c *Client) cancelTasks() {
	c.tasksMu.Lock()
	for id, cancel := range c.tasks {
		cancel()
		delete(c.tasks, id)
	}
	c.tasksMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.taskWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(backgroundTaskShutdown):
		slog.Warn("wsclient: background tasks did not finish before shutdown ceiling, abandoning", "name", c.cfg.Name)
	}
}
