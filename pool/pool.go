// Package pool coordinates channel membership across a set of chat network
// connections.
//
// The coordinator owns every channel session: which logical connection
// carries it, whether it is joined, and how many join attempts have failed.
// Connections are fanned out so no single one carries more than the
// configured channel count, outbound joins are paced through a shared
// rolling-window limiter, and a dead connection moves all of its sessions
// back to pending and redials with exponential backoff.
//
// The coordinator performs no network I/O of its own. It consumes raw lines
// from transport connections, parses them, answers pings, and hands every
// other event to the publish callback in arrival order. A channel lives on
// exactly one connection at a time, so per-channel event order is the order
// the network delivered.
package pool

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360/chatstream/errors"
	"github.com/c360/chatstream/event"
	"github.com/c360/chatstream/irc"
	"github.com/c360/chatstream/metric"
	"github.com/c360/chatstream/pkg/clock"
	"github.com/c360/chatstream/pkg/retry"
	"github.com/c360/chatstream/transport"
)

// State is a channel session's membership phase.
type State int

const (
	// StatePending means the channel is wanted but not joined yet.
	StatePending State = iota
	// StateJoined means the join was issued on a live connection.
	StateJoined
	// StateParted means the channel was removed and a part was issued.
	StateParted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateJoined:
		return "joined"
	case StateParted:
		return "parted"
	default:
		return "unknown"
	}
}

// ChannelFailure reports a channel whose joins keep failing. The session
// stays pending and keeps retrying at the capped backoff; the failure is
// informational.
type ChannelFailure struct {
	Channel  string
	Attempts int
	Err      error
}

// Handler receives each inbound event in network arrival order.
type Handler func(ctx context.Context, ev event.Event) error

// Config controls fan-out, pacing, and reconnect behavior.
type Config struct {
	// MaxChannelsPerConn caps channels carried by one connection.
	MaxChannelsPerConn int `json:"max_channels_per_conn"`
	// MaxJoinsPerWindow and JoinWindow set the rolling join budget
	// shared by all connections.
	MaxJoinsPerWindow int           `json:"max_joins_per_window"`
	JoinWindow        time.Duration `json:"join_window"`
	// MaxJoinAttempts is the failure count at which a channel is
	// surfaced on Failures().
	MaxJoinAttempts int `json:"max_join_attempts"`
	// JoinRetryDelay seeds the per-channel join retry backoff.
	JoinRetryDelay time.Duration `json:"join_retry_delay"`
	// ReconnectInitialDelay and ReconnectMaxDelay bound the dial backoff.
	ReconnectInitialDelay time.Duration `json:"reconnect_initial_delay"`
	ReconnectMaxDelay     time.Duration `json:"reconnect_max_delay"`
}

// DefaultConfig returns pacing defaults matching the public chat network's
// published limits for anonymous clients.
func DefaultConfig() Config {
	return Config{
		MaxChannelsPerConn:    90,
		MaxJoinsPerWindow:     20,
		JoinWindow:            10 * time.Second,
		MaxJoinAttempts:       5,
		JoinRetryDelay:        2 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     time.Minute,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxChannelsPerConn <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"max_channels_per_conn must be positive")
	}
	if c.MaxJoinsPerWindow <= 0 || c.JoinWindow <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"join pacing requires a positive budget and window")
	}
	if c.MaxJoinAttempts <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"max_join_attempts must be positive")
	}
	return nil
}

// session tracks one channel. Sessions are touched only by the coordinator
// goroutine.
type session struct {
	name         string
	state        State
	conn         *connection
	joinFailures int
	nextAttempt  time.Time
	lastActivity time.Time
	surfaced     bool
}

// connection pairs a transport connection with the sessions it carries.
type connection struct {
	id       int
	t        transport.Conn
	sessions map[string]*session
}

// Coordinator runs the channel pool.
type Coordinator struct {
	config  Config
	dialer  transport.Dialer
	publish Handler
	limiter *joinLimiter
	clk     clock.Clock
	parser  irc.Parser
	logger  *slog.Logger
	metrics *metric.Registry

	sessions      map[string]*session
	conns         map[int]*connection
	nextConnID    int
	dialsInFlight int

	wantedCh  chan []string
	connReady chan *connection
	connDown  chan *connection
	failures  chan ChannelFailure

	// Lifecycle management.
	shutdown    chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	running     bool
	lifecycleMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock substitutes the timer source.
func WithClock(c clock.Clock) Option {
	return func(p *Coordinator) { p.clk = c }
}

// WithLogger sets the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Coordinator) { p.logger = logger }
}

// WithMetrics records pool activity on the shared registry.
func WithMetrics(reg *metric.Registry) Option {
	return func(p *Coordinator) { p.metrics = reg }
}

// New creates a coordinator. Events flow to publish; nothing happens until
// Start and SetWanted.
func New(dialer transport.Dialer, publish Handler, config Config, opts ...Option) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil || publish == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Coordinator", "New",
			"dialer and publish handler required")
	}
	if config.JoinRetryDelay <= 0 {
		config.JoinRetryDelay = DefaultConfig().JoinRetryDelay
	}
	if config.ReconnectInitialDelay <= 0 {
		config.ReconnectInitialDelay = DefaultConfig().ReconnectInitialDelay
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = DefaultConfig().ReconnectMaxDelay
	}

	p := &Coordinator{
		config:    config,
		dialer:    dialer,
		publish:   publish,
		limiter:   newJoinLimiter(config.MaxJoinsPerWindow, config.JoinWindow),
		clk:       clock.New(),
		logger:    slog.Default(),
		sessions:  make(map[string]*session),
		conns:     make(map[int]*connection),
		wantedCh:  make(chan []string, 1),
		connReady: make(chan *connection),
		connDown:  make(chan *connection),
		failures:  make(chan ChannelFailure, 64),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pool")
	return p, nil
}

// Start launches the coordinator goroutine.
func (p *Coordinator) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Coordinator", "Start", "check running state")
	}
	p.running = true

	go p.run(ctx)
	return nil
}

// Stop shuts the coordinator down and closes every connection.
func (p *Coordinator) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running {
		return nil
	}
	p.closeOnce.Do(func() { close(p.shutdown) })

	select {
	case <-p.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrRetriesExhausted, "Coordinator", "Stop",
			"shutdown did not complete")
	}
	p.running = false
	return nil
}

// SetWanted replaces the wanted channel set. The latest call wins when the
// coordinator has not consumed a previous one yet.
func (p *Coordinator) SetWanted(channels []string) {
	normalized := make([]string, 0, len(channels))
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
		if ch != "" {
			normalized = append(normalized, ch)
		}
	}
	for {
		select {
		case p.wantedCh <- normalized:
			return
		default:
			select {
			case <-p.wantedCh:
			default:
			}
		}
	}
}

// Failures surfaces channels whose join attempts hit the retry ceiling.
func (p *Coordinator) Failures() <-chan ChannelFailure {
	return p.failures
}

// run is the coordinator goroutine. All session state lives here.
func (p *Coordinator) run(ctx context.Context) {
	defer close(p.done)

	for {
		wakeIn, hasWake := p.reconcile(ctx)

		var wake clock.Timer
		var wakeC <-chan time.Time
		if hasWake {
			wake = p.clk.NewTimer(wakeIn)
			wakeC = wake.C()
		}

		select {
		case <-ctx.Done():
			p.closeAll(ctx)
			return
		case <-p.shutdown:
			p.closeAll(ctx)
			return
		case wanted := <-p.wantedCh:
			p.applyWanted(ctx, wanted)
		case conn := <-p.connReady:
			p.dialsInFlight--
			p.adoptConn(ctx, conn)
		case conn := <-p.connDown:
			p.handleConnDown(conn)
		case <-wakeC:
			wake = nil
		}

		if wake != nil {
			wake.Stop()
		}
	}
}

// reconcile assigns pending sessions to connections and issues paced joins.
// It returns how long to sleep before the next scheduled attempt.
func (p *Coordinator) reconcile(ctx context.Context) (time.Duration, bool) {
	now := p.clk.Now()
	var nextWake time.Time
	consider := func(t time.Time) {
		if nextWake.IsZero() || t.Before(nextWake) {
			nextWake = t
		}
	}

	needConn := false
	for _, s := range p.sessions {
		if s.state != StatePending {
			continue
		}
		if s.nextAttempt.After(now) {
			consider(s.nextAttempt)
			continue
		}

		conn := p.connWithCapacity()
		if conn == nil {
			needConn = true
			continue
		}
		if !p.limiter.Allow(now) {
			consider(now.Add(p.limiter.NextFree(now)))
			continue
		}
		if !p.join(ctx, conn, s, now) {
			// The failed join scheduled a retry; arm the wake for it.
			consider(s.nextAttempt)
		}
	}

	if needConn && p.dialsInFlight == 0 {
		p.startDial(ctx)
	}

	if nextWake.IsZero() {
		return 0, false
	}
	d := nextWake.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// join issues the join line and moves the session to Joined. On failure it
// schedules a retry on s.nextAttempt and reports false.
func (p *Coordinator) join(ctx context.Context, conn *connection, s *session, now time.Time) bool {
	if err := conn.t.Send(ctx, "JOIN #"+s.name); err != nil {
		s.joinFailures++
		shift := s.joinFailures - 1
		if shift > 16 {
			shift = 16
		}
		backoff := p.config.JoinRetryDelay << uint(shift)
		if backoff > p.config.ReconnectMaxDelay || backoff <= 0 {
			backoff = p.config.ReconnectMaxDelay
		}
		s.nextAttempt = now.Add(backoff)
		p.logger.Warn("join failed",
			"channel", s.name, "attempts", s.joinFailures, "error", err)

		if s.joinFailures >= p.config.MaxJoinAttempts && !s.surfaced {
			s.surfaced = true
			if p.metrics != nil {
				p.metrics.Metrics.ChannelFailures.Inc()
			}
			select {
			case p.failures <- ChannelFailure{Channel: s.name, Attempts: s.joinFailures, Err: err}:
			default:
			}
		}
		return false
	}

	s.state = StateJoined
	s.conn = conn
	s.joinFailures = 0
	s.surfaced = false
	s.lastActivity = now
	conn.sessions[s.name] = s
	if p.metrics != nil {
		p.metrics.Metrics.JoinsTotal.Inc()
		p.metrics.Metrics.ChannelsJoined.Inc()
	}
	p.logger.Debug("channel joined", "channel", s.name, "conn", conn.id)
	return true
}

// applyWanted diffs the wanted set against live sessions.
func (p *Coordinator) applyWanted(ctx context.Context, wanted []string) {
	wantedSet := make(map[string]struct{}, len(wanted))
	for _, name := range wanted {
		wantedSet[name] = struct{}{}
		if _, exists := p.sessions[name]; !exists {
			p.sessions[name] = &session{name: name, state: StatePending}
		}
	}

	for name, s := range p.sessions {
		if _, keep := wantedSet[name]; keep {
			continue
		}
		if s.state == StateJoined && s.conn != nil {
			if err := s.conn.t.Send(ctx, "PART #"+name); err != nil {
				p.logger.Warn("part failed", "channel", name, "error", err)
			}
			delete(s.conn.sessions, name)
			if p.metrics != nil {
				p.metrics.Metrics.PartsTotal.Inc()
				p.metrics.Metrics.ChannelsJoined.Dec()
			}
		}
		s.state = StateParted
		delete(p.sessions, name)
		p.logger.Debug("channel parted", "channel", name)
	}
}

// connWithCapacity returns a connection with room for one more channel.
func (p *Coordinator) connWithCapacity() *connection {
	for _, conn := range p.conns {
		if len(conn.sessions) < p.config.MaxChannelsPerConn {
			return conn
		}
	}
	return nil
}

// startDial launches a background dial with exponential backoff. The
// attempt keeps going until it succeeds or the pool shuts down.
func (p *Coordinator) startDial(ctx context.Context) {
	p.dialsInFlight++
	id := p.nextConnID
	p.nextConnID++

	go func() {
		backoff := retry.NewBackoff(retry.Config{
			MaxAttempts:  1 << 30,
			InitialDelay: p.config.ReconnectInitialDelay,
			MaxDelay:     p.config.ReconnectMaxDelay,
			Multiplier:   2.0,
			AddJitter:    true,
		})
		for {
			t, err := p.dialer.Dial(ctx)
			if err == nil {
				select {
				case p.connReady <- &connection{id: id, t: t, sessions: make(map[string]*session)}:
				case <-ctx.Done():
					_ = t.Close(context.Background())
				case <-p.shutdown:
					_ = t.Close(context.Background())
				}
				return
			}

			delay := backoff.Next()
			p.logger.Warn("dial failed", "conn", id, "retry_in", delay, "error", err)
			timer := p.clk.NewTimer(delay)
			select {
			case <-timer.C():
			case <-ctx.Done():
				timer.Stop()
				return
			case <-p.shutdown:
				timer.Stop()
				return
			}
		}
	}()
}

// adoptConn registers a fresh connection and starts its read task.
func (p *Coordinator) adoptConn(ctx context.Context, conn *connection) {
	p.conns[conn.id] = conn
	if p.metrics != nil {
		p.metrics.Metrics.ConnectionsOpen.Inc()
	}
	p.logger.Info("connection ready", "conn", conn.id)
	go p.readLoop(ctx, conn)
}

// handleConnDown reverts the connection's sessions to pending so the next
// reconcile pass redistributes and redials.
func (p *Coordinator) handleConnDown(conn *connection) {
	if _, known := p.conns[conn.id]; !known {
		return
	}
	delete(p.conns, conn.id)
	if p.metrics != nil {
		p.metrics.Metrics.ConnectionsOpen.Dec()
		p.metrics.Metrics.ReconnectsTotal.Inc()
	}

	now := p.clk.Now()
	for name, s := range conn.sessions {
		s.state = StatePending
		s.conn = nil
		s.nextAttempt = now
		delete(conn.sessions, name)
		if p.metrics != nil {
			p.metrics.Metrics.ChannelsJoined.Dec()
		}
	}
	p.logger.Warn("connection lost, sessions requeued", "conn", conn.id, "error", conn.t.Err())
}

// readLoop parses inbound lines and publishes events. Runs per connection;
// a channel is carried by exactly one connection, so publish order here is
// per-channel network order.
func (p *Coordinator) readLoop(ctx context.Context, conn *connection) {
	for line := range conn.t.Lines() {
		ev := p.parser.Parse(line)
		if p.metrics != nil {
			p.metrics.Metrics.EventsParsed.WithLabelValues(string(ev.Type)).Inc()
			if ev.Type == event.TypeUnknown {
				p.metrics.Metrics.ParseAnomalies.Inc()
			}
		}

		switch ev.Type {
		case event.TypePing:
			payload := ev.Text
			if payload == "" {
				payload = "tmi.twitch.tv"
			}
			if err := conn.t.Send(ctx, "PONG :"+payload); err != nil {
				p.logger.Warn("pong failed", "conn", conn.id, "error", err)
			}
			continue
		case event.TypeReconnect:
			p.logger.Info("server requested reconnect", "conn", conn.id)
			_ = conn.t.Close(ctx)
			continue
		}

		if err := p.publish(ctx, ev); err != nil {
			// Publish only fails when the run context ends. Close the
			// transport so its reader goroutine unblocks too.
			_ = conn.t.Close(ctx)
			break
		}
	}

	select {
	case p.connDown <- conn:
	case <-p.shutdown:
	case <-ctx.Done():
	}
}

// closeAll closes every live connection on shutdown.
func (p *Coordinator) closeAll(ctx context.Context) {
	for _, conn := range p.conns {
		_ = conn.t.Close(ctx)
	}
}
