package cursor

import (
	"log/slog"

	"github.com/recera/livecanvas/pkg/presence"
)

// Keys recognised by the controller.
const (
	KeyChat      = "/"
	KeyEscape    = "Escape"
	KeyReactions = "e"
)

// Drawing tools hand pointer presses to the drawing engine instead of the
// cursor machine.
var drawingTools = map[string]bool{
	"rectangle": true,
	"circle":    true,
	"triangle":  true,
	"line":      true,
	"freeform":  true,
	"text":      true,
	"image":     true,
}

// IsDrawingTool reports whether pointer presses with this tool belong to the
// drawing engine.
func IsDrawingTool(name string) bool {
	return drawingTools[name]
}

// Controller owns the participant's cursor mode and publishes the presence
// side effects of each transition. It is not safe for concurrent use.
type Controller struct {
	ch      presence.Channel
	emitter *Emitter
	logger  *slog.Logger
	onEmit  func(EmittedReaction)

	state   State
	tool    string
	pointer *presence.Point
}

// Option configures a Controller.
type Option func(*Controller)

// WithEmitter sets the reaction emitter.
func WithEmitter(e *Emitter) Option {
	return func(c *Controller) { c.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithEmitHook registers fn to be called for every locally emitted reaction.
func WithEmitHook(fn func(EmittedReaction)) Option {
	return func(c *Controller) { c.onEmit = fn }
}

// NewController creates a controller in the Hidden state.
func NewController(ch presence.Channel, opts ...Option) *Controller {
	c := &Controller{
		ch:    ch,
		state: Hidden{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.emitter == nil {
		c.emitter = NewEmitter()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "cursor")
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Emitter returns the reaction emitter.
func (c *Controller) Emitter() *Emitter {
	return c.emitter
}

// Pointer returns the last known local pointer position.
func (c *Controller) Pointer() (presence.Point, bool) {
	if c.pointer == nil {
		return presence.Point{}, false
	}
	return *c.pointer, true
}

// ActiveTool returns the tool name last set with SetActiveTool.
func (c *Controller) ActiveTool() string {
	return c.tool
}

// SetActiveTool records the currently selected drawing tool.
func (c *Controller) SetActiveTool(name string) {
	c.tool = name
}

// Key applies a keyboard shortcut. It returns false for keys the machine
// does not know, which leave the state untouched.
func (c *Controller) Key(k string) bool {
	switch k {
	case KeyChat:
		// The fresh draft is empty, so nothing may stay published.
		if c.ch.Self().Message != nil {
			c.ch.Update(presence.ClearMessage())
		}
		c.transition(Chat{})
	case KeyEscape:
		c.ch.Update(presence.ClearMessage())
		c.transition(Hidden{})
	case KeyReactions:
		c.transition(ReactionSelector{})
	default:
		return false
	}
	return true
}

// ConfirmReaction picks glyph from the open selector. Outside the
// ReactionSelector state it does nothing and returns false.
func (c *Controller) ConfirmReaction(glyph string) bool {
	if _, ok := c.state.(ReactionSelector); !ok || glyph == "" {
		return false
	}
	c.transition(Reaction{Glyph: glyph})
	return true
}

// PointerMove handles a move inside the surface. The position is published
// only while no own cursor is known or while the selector is open.
func (c *Controller) PointerMove(p presence.Point) {
	c.pointer = &p
	_, selecting := c.state.(ReactionSelector)
	if c.ch.Self().Cursor == nil || selecting {
		c.ch.Update(presence.SetCursor(p))
	}
}

// PointerLeave hides the cursor and clears both published fields in a single
// update.
func (c *Controller) PointerLeave() {
	c.pointer = nil
	c.transition(Hidden{})
	c.ch.Update(presence.ClearCursor().WithMessage(nil))
}

// PointerDown handles a press at p. It returns false when the press belongs
// to the drawing engine.
func (c *Controller) PointerDown(p presence.Point) bool {
	r, reacting := c.state.(Reaction)
	if !reacting && IsDrawingTool(c.tool) {
		return false
	}

	c.pointer = &p
	c.ch.Update(presence.SetCursor(p))

	if reacting {
		r.Pressed = true
		c.state = r
		c.Tick()
	}
	return true
}

// PointerUp handles a release. It returns false when the release belongs to
// the drawing engine.
func (c *Controller) PointerUp(p presence.Point) bool {
	r, reacting := c.state.(Reaction)
	if !reacting {
		return !IsDrawingTool(c.tool)
	}
	c.pointer = &p
	r.Pressed = false
	c.state = r
	return true
}

// ChatInput replaces the chat draft and publishes it.
func (c *Controller) ChatInput(text string) bool {
	chat, ok := c.state.(Chat)
	if !ok {
		return false
	}
	chat.Message = text
	c.state = chat
	if text == "" {
		c.ch.Update(presence.ClearMessage())
	} else {
		c.ch.Update(presence.SetMessage(text))
	}
	return true
}

// ChatSubmit commits the draft: it becomes the previous message and the draft
// is cleared.
func (c *Controller) ChatSubmit() bool {
	chat, ok := c.state.(Chat)
	if !ok {
		return false
	}
	c.state = Chat{PreviousMessage: chat.Message}
	return true
}

// Tick advances the emitter once. It reports whether a reaction was emitted.
func (c *Controller) Tick() bool {
	emitted, ok := c.emitter.Tick(c.state, c.pointer)
	if ok && c.onEmit != nil {
		c.onEmit(emitted)
	}
	return ok
}

func (c *Controller) transition(next State) {
	prev := c.state
	c.state = next
	if prev.Mode() != next.Mode() {
		c.logger.Debug("cursor mode changed", "from", prev.Mode(), "to", next.Mode())
	}
}
