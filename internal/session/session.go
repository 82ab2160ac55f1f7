// Package session implements the client side of the relay auth/publish
// protocol: one persistent connection, a challenge/response handshake, and
// event publication with acknowledgements correlated by event ID.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/avolkovv/relaypub/internal/errs"
	"github.com/avolkovv/relaypub/internal/model"
	"github.com/avolkovv/relaypub/internal/signer"
	"github.com/avolkovv/relaypub/internal/transport"
	"github.com/avolkovv/relaypub/internal/wire"
)

// DefaultTimeout bounds the whole auth handshake, and separately each publish.
const DefaultTimeout = 10 * time.Second

// State is the session lifecycle position. Idle and Closed are externally
// equivalent: no open connection, not authenticated.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingChallenge
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is an immutable snapshot of the session, pushed to watchers on every
// transition.
type Status struct {
	State           State
	Authenticated   bool
	Connecting      bool
	Publishing      bool
	Err             error
	LastPublishedID string
}

// Config holds the session parameters.
type Config struct {
	// RelayURL is the ws:// or wss:// endpoint to authenticate against.
	RelayURL string

	// Timeout bounds the handshake and each publish. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the structured logger (default: no-op).
func WithLogger(log *zap.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithClock sets the time source, letting tests drive timers.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clk = clk }
}

// Session owns one relay connection and its auth/publish state machine.
// Authenticate and Publish are not reentrant with themselves; unrelated callers
// may use the session concurrently.
type Session struct {
	relayURL string
	timeout  time.Duration
	sig      signer.Signer
	dial     transport.Dialer
	clk      clock.Clock
	log      *zap.Logger

	mu            sync.Mutex
	state         State
	link          *link
	pubkey        string
	challenge     string      // pending-challenge slot, single-use
	challengeWait chan string // armed while the handshake waits for a challenge
	pending       *pendingOp  // single in-flight publish correlation
	lastPublished string
	lastErr       error
	authBusy      bool

	watchers map[uint64]func(Status)
	watchSeq uint64
}

// New constructs a session over the given signer and dialer.
func New(cfg Config, sig signer.Signer, dialer transport.Dialer, opts ...Option) *Session {
	s := &Session{
		relayURL: cfg.RelayURL,
		timeout:  cfg.Timeout,
		sig:      sig,
		dial:     dialer,
		clk:      clock.New(),
		log:      zap.NewNop(),
		state:    StateIdle,
		watchers: map[uint64]func(Status){},
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// link bundles the per-connection state. A session holds at most one.
type link struct {
	conn transport.Conn
	disp *dispatcher
	done chan struct{}
	once sync.Once
	err  error // set before done is closed
}

func (l *link) close(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
		_ = l.conn.Close()
	})
}

// Authenticate runs the challenge/response handshake: resolve identity, open
// the connection, provoke a challenge with a read request, submit the signed
// proof, and wait for the relay's acceptance. One timer spans the whole
// exchange. Calling it while already authenticated is a no-op success.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		s.mu.Unlock()
		return nil
	}
	if s.authBusy {
		s.mu.Unlock()
		return errs.ErrOperationInProgress
	}
	s.authBusy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.authBusy = false
		s.mu.Unlock()
	}()

	// Identity first: no connection is opened when the signer is missing.
	pubkey, err := s.sig.PublicKey(ctx)
	if err != nil {
		return wrapSentinel(errs.ErrSignerUnavailable, err)
	}
	s.mu.Lock()
	s.pubkey = pubkey
	s.mu.Unlock()

	timer := s.clk.Timer(s.timeout)
	defer timer.Stop()

	s.setState(StateConnecting, nil)
	l, err := s.dialTimed(ctx, timer)
	if err != nil {
		return err
	}

	challengeWait := make(chan string, 1)
	s.mu.Lock()
	s.link = l
	s.challengeWait = challengeWait
	s.mu.Unlock()

	s.watchChallenges(l)
	go s.readLoop(l)

	// Minimal read request whose only purpose is to make the relay demand
	// auth; its results are ignored.
	subID := uuid.Must(uuid.NewV4()).String()
	req := wire.ReqEnvelope{
		SubscriptionID: subID,
		Filter:         wire.Filter{Kinds: []int{model.KindAppData}, Authors: []string{pubkey}, Limit: 1},
	}
	if err := s.send(l, req); err != nil {
		werr := wrapSentinel(errs.ErrTransport, err)
		s.teardown(l, werr)
		return werr
	}
	s.setState(StateAwaitingChallenge, nil)

	var challenge string
	select {
	case challenge = <-challengeWait:
	case <-timer.C:
		s.teardown(l, errs.ErrAuthTimeout)
		return errs.ErrAuthTimeout
	case <-ctx.Done():
		s.teardown(l, ctx.Err())
		return ctx.Err()
	case <-l.done:
		return s.closeReason(l)
	}
	s.log.Debug("challenge received", zap.String("relay", s.relayURL))

	proof := model.NewAuthProof(pubkey, s.relayURL, challenge, s.clk.Now())
	if err := s.sig.Sign(ctx, proof); err != nil {
		werr := wrapSentinel(errs.ErrSigningRejected, err)
		s.teardown(l, werr)
		return werr
	}

	// The challenge is single-use: consumed by the proof, never cached.
	s.mu.Lock()
	if s.challenge == challenge {
		s.challenge = ""
	}
	s.mu.Unlock()

	op := &pendingOp{id: proof.ID, res: make(chan okResult, 1)}
	removeOK := s.watchOK(l, op)
	defer removeOK()

	if err := s.send(l, wire.AuthEnvelope{Event: proof}); err != nil {
		werr := wrapSentinel(errs.ErrTransport, err)
		s.teardown(l, werr)
		return werr
	}
	s.setState(StateAuthenticating, nil)

	select {
	case res := <-op.res:
		if !res.ok {
			werr := fmt.Errorf("%w: %s", errs.ErrAuthFailed, res.reason)
			s.teardown(l, werr)
			return werr
		}
		s.setState(StateAuthenticated, nil)
		s.log.Info("authenticated", zap.String("relay", s.relayURL), zap.String("pubkey", pubkey))
		return nil
	case <-timer.C:
		s.teardown(l, errs.ErrAuthTimeout)
		return errs.ErrAuthTimeout
	case <-ctx.Done():
		s.teardown(l, ctx.Err())
		return ctx.Err()
	case <-l.done:
		return s.closeReason(l)
	}
}

// Publish signs and sends one replaceable event on the authenticated
// connection and waits for the relay's acknowledgement. The d tag determines
// which logical record the event replaces. Returns the signed event's ID.
// At most one publish may be in flight; concurrent calls fail fast.
func (s *Session) Publish(ctx context.Context, content, dTag string, extraTags []model.Tag) (string, error) {
	s.mu.Lock()
	if s.state != StateAuthenticated || s.link == nil {
		s.mu.Unlock()
		return "", errs.ErrNotAuthenticated
	}
	if s.pending != nil {
		s.mu.Unlock()
		return "", errs.ErrOperationInProgress
	}
	op := &pendingOp{res: make(chan okResult, 1)}
	s.pending = op
	l := s.link
	pubkey := s.pubkey
	s.mu.Unlock()
	s.notify()

	release := func() {
		s.mu.Lock()
		cleared := s.pending == op
		if cleared {
			s.pending = nil
		}
		s.mu.Unlock()
		if cleared {
			s.notify()
		}
	}

	ev := model.NewAppData(pubkey, content, dTag, extraTags, s.clk.Now())
	if err := s.sig.Sign(ctx, ev); err != nil {
		release()
		return "", wrapSentinel(errs.ErrSigningRejected, err)
	}
	op.id = ev.ID

	removeOK := s.watchOK(l, op)
	defer removeOK()
	defer release()

	// Timer armed before the write so an instant response cannot race it.
	timer := s.clk.Timer(s.timeout)
	defer timer.Stop()

	if err := s.send(l, wire.EventEnvelope{Event: ev}); err != nil {
		werr := wrapSentinel(errs.ErrTransport, err)
		s.teardown(l, werr)
		return "", werr
	}
	s.log.Debug("event sent", zap.String("id", ev.ID), zap.String("d", dTag))

	select {
	case res := <-op.res:
		if !res.ok {
			return "", fmt.Errorf("%w: %s", errs.ErrPublishFailed, res.reason)
		}
		s.mu.Lock()
		s.lastPublished = ev.ID
		s.mu.Unlock()
		return ev.ID, nil
	case <-timer.C:
		// Not a transport failure: the connection stays open and
		// authenticated, and a late acknowledgement is simply ignored.
		return "", errs.ErrPublishTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", s.closeReason(l)
	}
}

// Disconnect closes the connection if open and resets the session to
// unauthenticated. Safe to call in any state, any number of times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()

	if l != nil {
		s.teardown(l, nil)
		return
	}

	s.mu.Lock()
	changed := s.state != StateIdle
	s.state = StateIdle
	s.challenge = ""
	s.pending = nil
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Status returns the current snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Watch registers fn for synchronous snapshots on every state transition, and
// calls it once immediately with the current snapshot. The returned func
// unregisters it.
func (s *Session) Watch(fn func(Status)) (stop func()) {
	s.mu.Lock()
	id := s.watchSeq
	s.watchSeq++
	s.watchers[id] = fn
	snap := s.statusLocked()
	s.mu.Unlock()

	fn(snap)
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// ---- internals ----

func (s *Session) statusLocked() Status {
	return Status{
		State:         s.state,
		Authenticated: s.state == StateAuthenticated,
		Connecting: s.state == StateConnecting ||
			s.state == StateAwaitingChallenge ||
			s.state == StateAuthenticating,
		Publishing:      s.pending != nil,
		Err:             s.lastErr,
		LastPublishedID: s.lastPublished,
	}
}

func (s *Session) setState(st State, err error) {
	s.mu.Lock()
	s.state = st
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	snap := s.statusLocked()
	fns := make([]func(Status), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// dialTimed opens the connection, bounded by the shared handshake timer.
func (s *Session) dialTimed(ctx context.Context, timer *clock.Timer) (*link, error) {
	type dialRes struct {
		conn transport.Conn
		err  error
	}
	ch := make(chan dialRes, 1)
	go func() {
		conn, err := s.dial.DialContext(ctx, s.relayURL)
		ch <- dialRes{conn, err}
	}()

	discard := func() {
		if r := <-ch; r.err == nil {
			_ = r.conn.Close()
		}
	}

	select {
	case r := <-ch:
		if r.err != nil {
			werr := wrapSentinel(errs.ErrTransport, r.err)
			s.failDetached(werr)
			return nil, werr
		}
		return &link{conn: r.conn, disp: newDispatcher(), done: make(chan struct{})}, nil
	case <-timer.C:
		go discard()
		s.failDetached(errs.ErrAuthTimeout)
		return nil, errs.ErrAuthTimeout
	case <-ctx.Done():
		go discard()
		s.failDetached(ctx.Err())
		return nil, ctx.Err()
	}
}

// failDetached records a failure that happened before any link was attached.
func (s *Session) failDetached(err error) {
	s.mu.Lock()
	s.state = StateClosed
	s.lastErr = err
	s.mu.Unlock()
	s.notify()
}

// readLoop decodes inbound frames and feeds the dispatcher, strictly in
// arrival order. Runs until the connection fails or is closed.
func (s *Session) readLoop(l *link) {
	for {
		data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				// deliberate close, not a failure
			default:
				s.teardown(l, wrapSentinel(errs.ErrTransport, err))
			}
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			if errors.Is(err, wire.ErrUnknownLabel) {
				continue
			}
			s.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		if l.disp.dispatch(env) {
			continue
		}
		switch e := env.(type) {
		case wire.ClosedEnvelope:
			// advisory only; "auth-required:" prefixed reasons are expected
			// for the trigger subscription and drive no transitions
			s.log.Debug("subscription closed",
				zap.String("sub", e.SubscriptionID), zap.String("reason", e.Reason))
		case wire.OKEnvelope:
			s.log.Debug("unmatched acknowledgement", zap.String("id", e.EventID))
		default:
		}
	}
}

// watchChallenges installs the always-on challenge watcher: it fills the
// pending-challenge slot and wakes a waiting handshake. Relays may re-issue
// challenges at any time; the newest one wins.
func (s *Session) watchChallenges(l *link) {
	l.disp.add(frameHandler{
		match: func(env wire.Envelope) bool {
			_, ok := env.(wire.ChallengeEnvelope)
			return ok
		},
		handle: func(env wire.Envelope) {
			challenge := env.(wire.ChallengeEnvelope).Challenge
			s.mu.Lock()
			s.challenge = challenge
			wait := s.challengeWait
			s.challengeWait = nil
			s.mu.Unlock()
			if wait != nil {
				wait <- challenge
			}
		},
	})
}

// watchOK installs a correlation handler claiming the acknowledgement whose
// event ID matches op exactly; acknowledgements for other IDs pass through.
func (s *Session) watchOK(l *link, op *pendingOp) (remove func()) {
	return l.disp.add(frameHandler{
		match: func(env wire.Envelope) bool {
			res, ok := env.(wire.OKEnvelope)
			return ok && res.EventID == op.id
		},
		handle: func(env wire.Envelope) {
			res := env.(wire.OKEnvelope)
			select {
			case op.res <- okResult{ok: res.OK, reason: res.Reason}:
			default:
			}
		},
	})
}

func (s *Session) send(l *link, env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return l.conn.WriteMessage(data)
}

// teardown closes the link and, when it is still the session's current one,
// resets all per-connection state. err == nil means an explicit disconnect.
func (s *Session) teardown(l *link, err error) {
	l.close(err)

	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	s.challenge = ""
	s.challengeWait = nil
	s.pending = nil
	if err != nil {
		s.state = StateClosed
		s.lastErr = err
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.notify()
}

// closeReason maps a dead link to the error the caller sees.
func (s *Session) closeReason(l *link) error {
	if l.err == nil {
		return fmt.Errorf("%w: connection closed", errs.ErrTransport)
	}
	if errors.Is(l.err, errs.ErrTransport) {
		return l.err
	}
	return wrapSentinel(errs.ErrTransport, l.err)
}

// wrapSentinel wraps err under sentinel unless it already carries it.
func wrapSentinel(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
