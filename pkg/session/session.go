// Package session wires one participant: a presence channel, the cursor
// controller, the input router and the reaction emitter, all driven from a
// single scheduler loop.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/recera/livecanvas/pkg/cursor"
	"github.com/recera/livecanvas/pkg/input"
	"github.com/recera/livecanvas/pkg/presence"
	"github.com/recera/livecanvas/pkg/reactive"
	"github.com/recera/livecanvas/pkg/scheduler"
)

// DefaultGlyphs are the reactions offered by the selector.
var DefaultGlyphs = []string{"👍", "🔥", "😍", "👀", "😱", "🙁"}

// Tuning holds the values that can change while a session runs.
type Tuning struct {
	Palette      cursor.Palette
	Glyphs       []string
	TickInterval time.Duration
	Retention    time.Duration
	MaxTrail     int
}

// DefaultTuning returns the built-in tunables.
func DefaultTuning() Tuning {
	return Tuning{
		Palette:      append(cursor.Palette(nil), cursor.DefaultPalette...),
		Glyphs:       append([]string(nil), DefaultGlyphs...),
		TickInterval: cursor.DefaultTickInterval,
		Retention:    cursor.DefaultRetention,
		MaxTrail:     cursor.DefaultMaxTrail,
	}
}

// othersLister is implemented by channels that can report the current
// participants without waiting for the next change.
type othersLister interface {
	Others() []presence.Presence
}

// Session is the surrounding-application contract for one participant.
// Its methods are safe for concurrent use.
type Session struct {
	ch     presence.Channel
	loop   *scheduler.Loop
	logger *slog.Logger

	// Owned by the loop goroutine.
	ctrl    *cursor.Controller
	router  *input.Router
	mapper  *cursor.Mapper
	emitter *cursor.Emitter

	others  *reactive.State[[]presence.Presence]
	palette *reactive.State[cursor.Palette]
	glyphs  *reactive.State[[]string]
	overlay *reactive.State[cursor.State]
	trail   *reactive.State[[]cursor.EmittedReaction]
	self    *reactive.State[presence.Presence]
	view    *reactive.Computed[[]cursor.RenderableCursor]

	notifyJob *scheduler.Job
	tickReset chan time.Duration

	mu        sync.Mutex
	listeners map[int]func()
	nextID    int
	stops     []func()

	errs      chan error
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
	tick      time.Duration
}

// Option configures a Session.
type Option func(*sessionOptions)

type sessionOptions struct {
	logger  *slog.Logger
	tuning  Tuning
	onDraw  input.DrawHandler
	clock   func() time.Time
	errSize int
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *sessionOptions) { o.logger = l }
}

// WithTuning sets the initial tunables.
func WithTuning(t Tuning) Option {
	return func(o *sessionOptions) { o.tuning = t }
}

// WithDrawHandler receives pointer presses that belong to the drawing engine.
// The handler runs on the session loop.
func WithDrawHandler(fn input.DrawHandler) Option {
	return func(o *sessionOptions) { o.onDraw = fn }
}

// WithClock replaces time.Now for the reaction trail.
func WithClock(now func() time.Time) Option {
	return func(o *sessionOptions) { o.clock = now }
}

// New creates a session on ch. Nothing runs until Start.
func New(ch presence.Channel, opts ...Option) *Session {
	o := sessionOptions{
		tuning:  DefaultTuning(),
		errSize: 16,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.tuning = normalise(o.tuning)

	s := &Session{
		ch:        ch,
		logger:    o.logger.With("component", "session", "connection", ch.Self().ConnectionID),
		mapper:    &cursor.Mapper{},
		listeners: make(map[int]func()),
		tickReset: make(chan time.Duration, 1),
		errs:      make(chan error, o.errSize),
		done:      make(chan struct{}),
		tick:      o.tuning.TickInterval,
	}

	s.loop = scheduler.NewLoop(
		scheduler.WithLogger(o.logger),
		scheduler.WithErrorHandler(func(job *scheduler.Job, err error) bool {
			s.report(err)
			return true
		}),
	)

	emitterOpts := []cursor.EmitterOption{
		cursor.WithRetention(o.tuning.Retention),
		cursor.WithMaxTrail(o.tuning.MaxTrail),
	}
	if o.clock != nil {
		emitterOpts = append(emitterOpts, cursor.WithClock(o.clock))
	}
	s.emitter = cursor.NewEmitter(emitterOpts...)

	s.ctrl = cursor.NewController(ch,
		cursor.WithEmitter(s.emitter),
		cursor.WithLogger(o.logger),
		cursor.WithEmitHook(s.broadcast),
	)
	s.router = input.NewRouter(s.ctrl, s.mapper,
		input.WithGlyphs(o.tuning.Glyphs),
		input.WithDrawHandler(o.onDraw),
		input.WithRouterLogger(o.logger),
	)

	s.others = reactive.NewState[[]presence.Presence](nil, s.loop)
	s.palette = reactive.NewState(o.tuning.Palette, s.loop)
	s.glyphs = reactive.NewState(o.tuning.Glyphs, s.loop)
	s.overlay = reactive.NewState[cursor.State](cursor.Hidden{}, s.loop)
	s.trail = reactive.NewState[[]cursor.EmittedReaction](nil, s.loop)
	s.self = reactive.NewState(ch.Self(), s.loop)
	s.view = reactive.NewComputed(func() []cursor.RenderableCursor {
		return cursor.Project(s.others.Get(), s.palette.Get())
	}, s.loop, s.others, s.palette)

	s.notifyJob = s.loop.NewJob("notify", s.notify)
	s.view.Subscribe(s.notifyJob)
	s.glyphs.Subscribe(s.notifyJob)
	s.overlay.Subscribe(s.notifyJob)
	s.trail.Subscribe(s.notifyJob)
	s.self.Subscribe(s.notifyJob)

	return s
}

func normalise(t Tuning) Tuning {
	def := DefaultTuning()
	if len(t.Palette) == 0 {
		t.Palette = def.Palette
	}
	if len(t.Glyphs) == 0 {
		t.Glyphs = def.Glyphs
	}
	if t.TickInterval <= 0 {
		t.TickInterval = def.TickInterval
	}
	if t.Retention <= 0 {
		t.Retention = def.Retention
	}
	if t.MaxTrail <= 0 {
		t.MaxTrail = def.MaxTrail
	}
	return t
}

// Start subscribes to the channel and starts the loop and the tick timer.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		var stops []func()
		stops = append(stops, s.ch.SubscribeOthers(func(others []presence.Presence) {
			s.post(func() { s.others.Set(others) })
		}))
		if b, ok := s.ch.(presence.Broadcaster); ok {
			stops = append(stops, b.SubscribeReactions(func(r presence.Reaction) {
				s.post(func() {
					s.emitter.Add(cursor.EmittedReaction{Glyph: r.Glyph, Point: r.Point})
					s.sync()
				})
			}))
		}
		// Read after subscribing so no change falls between the two.
		if l, ok := s.ch.(othersLister); ok {
			s.post(func() { s.others.Set(l.Others()) })
		}
		if rep, ok := s.ch.(presence.ErrorReporter); ok {
			s.wg.Add(1)
			go s.forwardErrors(rep.Errors())
		}

		s.mu.Lock()
		s.stops = append(s.stops, stops...)
		s.mu.Unlock()

		s.loop.Start()

		s.wg.Add(1)
		go s.runTicker()
		s.logger.Debug("session started")
	})
}

// Close unregisters every listener and stops the loop. Close does not leave
// the presence channel; the channel's owner does that. It must not be called
// from an OnChange callback.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stops := s.stops
		s.stops = nil
		s.mu.Unlock()
		for _, stop := range stops {
			stop()
		}

		close(s.done)
		s.loop.Stop()
		s.wg.Wait()
		<-s.loop.Done()

		s.view.Dispose()
		s.logger.Debug("session closed")
	})
}

// Attach binds external event sources to the session. The returned
// subscription is also closed by Close.
func (s *Session) Attach(keys input.KeySource, pointer input.PointerSource) *input.Subscription {
	sub := input.Listen(keys, s.HandleKey, pointer, s.HandlePointer)
	s.mu.Lock()
	s.stops = append(s.stops, sub.Close)
	s.mu.Unlock()
	return sub
}

// HandleKey queues a key event. The suppression answer is returned
// immediately so capture layers can cancel text insertion.
func (s *Session) HandleKey(ev input.KeyEvent) bool {
	suppress := input.Suppresses(ev)
	s.post(func() {
		s.router.HandleKey(ev)
		s.sync()
	})
	return suppress
}

// HandlePointer queues a pointer event in device coordinates.
func (s *Session) HandlePointer(ev input.PointerEvent) {
	s.post(func() {
		s.router.HandlePointer(ev)
		s.sync()
	})
}

// SetSurface registers the surface bounding box used for coordinate mapping
// and pointer scoping.
func (s *Session) SetSurface(b cursor.Bounds) {
	s.post(func() { s.mapper.SetBounds(b) })
}

// ConfirmReaction picks glyph from the open selector.
func (s *Session) ConfirmReaction(glyph string) {
	s.post(func() {
		s.ctrl.ConfirmReaction(glyph)
		s.sync()
	})
}

// OnActiveToolChanged records the drawing tool currently selected.
func (s *Session) OnActiveToolChanged(name string) {
	s.post(func() { s.ctrl.SetActiveTool(name) })
}

// Tune applies new tunables. Zero fields keep their current value.
func (s *Session) Tune(t Tuning) {
	if len(t.Palette) > 0 {
		s.palette.Set(append(cursor.Palette(nil), t.Palette...))
	}
	if len(t.Glyphs) > 0 {
		glyphs := append([]string(nil), t.Glyphs...)
		s.post(func() {
			s.router.SetGlyphs(glyphs)
			s.glyphs.Set(glyphs)
		})
	}
	if t.Retention > 0 || t.MaxTrail > 0 {
		s.post(func() {
			s.emitter.SetRetention(t.Retention)
			s.emitter.SetMaxTrail(t.MaxTrail)
			s.emitter.Prune()
			s.sync()
		})
	}
	if t.TickInterval > 0 {
		// A pending reset is replaced by the newer interval.
		select {
		case <-s.tickReset:
		default:
		}
		select {
		case s.tickReset <- t.TickInterval:
		default:
		}
	}
}

// RenderableCursors returns the other participants' cursors, recomputed on
// every presence notification.
func (s *Session) RenderableCursors() []cursor.RenderableCursor {
	return s.view.Get()
}

// OverlayState returns the participant's own cursor state.
func (s *Session) OverlayState() cursor.State {
	return s.overlay.Get()
}

// Trail returns the current reaction trail, oldest first.
func (s *Session) Trail() []cursor.EmittedReaction {
	return s.trail.Get()
}

// Participants counts the connected participants, including this one,
// whether or not they show a cursor.
func (s *Session) Participants() int {
	ids := map[presence.ConnectionID]bool{}
	for _, p := range s.others.Get() {
		ids[p.ConnectionID] = true
	}
	return len(ids) + 1
}

// Self returns the participant's own published record.
func (s *Session) Self() presence.Presence {
	return s.self.Get()
}

// Glyphs returns the reactions offered by the selector.
func (s *Session) Glyphs() []string {
	return append([]string(nil), s.glyphs.Get()...)
}

// Palette returns the colours used for other participants.
func (s *Session) Palette() cursor.Palette {
	return s.palette.Get()
}

// OnChange registers fn to be called after any observable value changed.
// Bursts of changes are coalesced into one call. fn runs on the session
// loop and must not block.
func (s *Session) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Errors reports publish failures and recovered panics. Local state is never
// rolled back.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Flush waits until every event queued so far has been processed and the
// change notifications it caused have run.
func (s *Session) Flush() error {
	// Notifications are queued behind the events that caused them.
	for i := 0; i < 2; i++ {
		if err := s.loop.Call(func() {}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) post(fn func()) {
	if err := s.loop.Post(fn); err != nil {
		s.logger.Debug("event dropped", "error", err)
	}
}

// sync copies loop-owned state into the observable values.
func (s *Session) sync() {
	s.overlay.Set(s.ctrl.State())
	s.trail.Set(s.emitter.Trail())
	s.self.Set(s.ch.Self())
}

func (s *Session) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Session) broadcast(e cursor.EmittedReaction) {
	b, ok := s.ch.(presence.Broadcaster)
	if !ok {
		return
	}
	b.BroadcastReaction(presence.Reaction{
		From:  s.ch.Self().ConnectionID,
		Glyph: e.Glyph,
		Point: e.Point,
	})
}

func (s *Session) runTicker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.post(func() {
				before := s.emitter.Len()
				emitted := s.ctrl.Tick()
				if emitted || before != s.emitter.Len() {
					s.trail.Set(s.emitter.Trail())
				}
			})
		case d := <-s.tickReset:
			ticker.Reset(d)
			s.logger.Debug("tick interval changed", "interval", d)
		case <-s.done:
			return
		}
	}
}

func (s *Session) forwardErrors(errs <-chan error) {
	defer s.wg.Done()
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.report(err)
		case <-s.done:
			return
		}
	}
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		s.logger.Warn("dropping session error", "error", err)
	}
}
