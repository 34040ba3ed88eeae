package input

import (
	"log/slog"
	"strconv"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/recera/livecanvas/pkg/cursor"
	"github.com/recera/livecanvas/pkg/presence"
)

// Target is the part of the cursor controller the router drives.
type Target interface {
	State() cursor.State
	Key(k string) bool
	ConfirmReaction(glyph string) bool
	ChatInput(text string) bool
	ChatSubmit() bool
	PointerMove(p presence.Point)
	PointerLeave()
	PointerDown(p presence.Point) bool
	PointerUp(p presence.Point) bool
}

var _ Target = (*cursor.Controller)(nil)

// DrawHandler receives pointer presses and releases that belong to the
// drawing engine.
type DrawHandler func(ev PointerEvent, local presence.Point)

// Router maps raw input onto controller calls. It is not safe for concurrent
// use; callers serialise events.
type Router struct {
	target Target
	mapper *cursor.Mapper
	glyphs []string
	onDraw DrawHandler
	logger *slog.Logger

	inside           bool
	warnedUnmeasured bool
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithGlyphs sets the reactions selectable with the digit keys.
func WithGlyphs(glyphs []string) RouterOption {
	return func(r *Router) { r.SetGlyphs(glyphs) }
}

// WithDrawHandler sets the handler for presses routed to drawing.
func WithDrawHandler(fn DrawHandler) RouterOption {
	return func(r *Router) { r.onDraw = fn }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter creates a router for target. A nil mapper means an unmeasured
// surface.
func NewRouter(target Target, mapper *cursor.Mapper, opts ...RouterOption) *Router {
	if mapper == nil {
		mapper = &cursor.Mapper{}
	}
	r := &Router{
		target: target,
		mapper: mapper,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "input")
	return r
}

// SetGlyphs replaces the selectable reactions.
func (r *Router) SetGlyphs(glyphs []string) {
	r.glyphs = append([]string(nil), glyphs...)
}

// Glyphs returns the selectable reactions.
func (r *Router) Glyphs() []string {
	return append([]string(nil), r.glyphs...)
}

// Suppresses reports whether the default text insertion of ev must be
// cancelled by the capture layer.
func Suppresses(ev KeyEvent) bool {
	return ev.Key == cursor.KeyChat && ev.Phase != KeyUp
}

// HandleKey routes a document-level key event and returns whether its
// default action must be suppressed. Transitions fire on key-up; KeyPress
// counts as down followed by up.
func (r *Router) HandleKey(ev KeyEvent) bool {
	suppress := Suppresses(ev)
	if ev.Phase == KeyDown {
		return suppress
	}

	switch r.target.State().(type) {
	case cursor.Chat:
		r.chatKey(ev.Key)
	case cursor.ReactionSelector:
		if glyph, ok := r.glyphForKey(ev.Key); ok {
			r.target.ConfirmReaction(glyph)
			break
		}
		r.target.Key(ev.Key)
	default:
		r.target.Key(ev.Key)
	}
	return suppress
}

// chatKey handles a key while the chat field has focus. Printable keys edit
// the draft; "/" and Escape keep their shortcut meaning.
func (r *Router) chatKey(k string) {
	switch k {
	case cursor.KeyChat, KeyEscape:
		r.target.Key(k)
		return
	case KeyEnter:
		r.target.ChatSubmit()
		return
	}

	chat, ok := r.target.State().(cursor.Chat)
	if !ok {
		return
	}
	switch {
	case k == KeyBackspace:
		if chat.Message == "" {
			return
		}
		_, size := utf8.DecodeLastRuneInString(chat.Message)
		r.target.ChatInput(chat.Message[:len(chat.Message)-size])
	case isPrintable(k):
		r.target.ChatInput(chat.Message + k)
	}
}

func (r *Router) glyphForKey(k string) (string, bool) {
	n, err := strconv.Atoi(k)
	if err != nil || n < 1 || n > len(r.glyphs) {
		return "", false
	}
	return r.glyphs[n-1], true
}

// HandlePointer routes a pointer event scoped to the surface box. A move
// that leaves the box becomes a single leave.
func (r *Router) HandlePointer(ev PointerEvent) {
	if ev.Kind == PointerLeave {
		r.leave()
		return
	}
	if !r.mapper.Contains(ev.X, ev.Y) {
		r.leave()
		return
	}

	p, measured := r.mapper.Local(ev.X, ev.Y)
	if !measured && !r.warnedUnmeasured {
		r.warnedUnmeasured = true
		r.logger.Warn("surface not measured, mapping pointer against origin")
	}
	r.inside = true

	switch ev.Kind {
	case PointerMove:
		r.target.PointerMove(p)
	case PointerDown:
		if !r.target.PointerDown(p) && r.onDraw != nil {
			r.onDraw(ev, p)
		}
	case PointerUp:
		if !r.target.PointerUp(p) && r.onDraw != nil {
			r.onDraw(ev, p)
		}
	}
}

// leave forwards a leave while the pointer was inside or a mode is still
// showing. Keys can open chat before the pointer ever enters.
func (r *Router) leave() {
	if _, hidden := r.target.State().(cursor.Hidden); !r.inside && hidden {
		return
	}
	r.inside = false
	r.target.PointerLeave()
}

// Bind subscribes the router to keyboard and pointer sources. Either source
// may be nil. Closing the subscription unregisters both listeners.
func (r *Router) Bind(keys KeySource, pointer PointerSource) *Subscription {
	return Listen(keys, r.HandleKey, pointer, r.HandlePointer)
}

// Listen registers onKey and onPointer with the given sources and returns
// their joint subscription. Nil sources are skipped.
func Listen(keys KeySource, onKey func(KeyEvent) bool, pointer PointerSource, onPointer func(PointerEvent)) *Subscription {
	sub := &Subscription{}
	if keys != nil && onKey != nil {
		sub.stops = append(sub.stops, keys.ListenKeys(onKey))
	}
	if pointer != nil && onPointer != nil {
		sub.stops = append(sub.stops, pointer.ListenPointer(onPointer))
	}
	return sub
}

// Subscription is the lifetime of a Bind or Listen call.
type Subscription struct {
	once  sync.Once
	stops []func()
}

// Close unregisters the listeners. Further calls do nothing.
func (s *Subscription) Close() {
	s.once.Do(func() {
		for _, stop := range s.stops {
			if stop != nil {
				stop()
			}
		}
		s.stops = nil
	})
}

func isPrintable(k string) bool {
	if utf8.RuneCountInString(k) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(k)
	return unicode.IsPrint(r)
}
