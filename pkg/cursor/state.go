// Package cursor implements the local interaction state of one participant:
// the cursor mode machine, the reaction trail, coordinate mapping and the
// projection of remote participants into renderable cursors.
package cursor

// Mode tags the active State variant.
type Mode uint8

const (
	ModeHidden Mode = iota
	ModeChat
	ModeReactionSelector
	ModeReaction
)

func (m Mode) String() string {
	switch m {
	case ModeHidden:
		return "hidden"
	case ModeChat:
		return "chat"
	case ModeReactionSelector:
		return "reaction-selector"
	case ModeReaction:
		return "reaction"
	default:
		return "unknown"
	}
}

// State is the participant's current cursor mode together with the data that
// only exists in that mode. The only implementations are Hidden, Chat,
// ReactionSelector and Reaction.
type State interface {
	Mode() Mode
	sealed()
}

// Hidden is the neutral state.
type Hidden struct{}

// Chat is active while the participant types a message next to the cursor.
type Chat struct {
	Message         string
	PreviousMessage string
}

// ReactionSelector is active while the glyph picker is open.
type ReactionSelector struct{}

// Reaction is active after a glyph was picked. Pressed gates emission.
type Reaction struct {
	Glyph   string
	Pressed bool
}

func (Hidden) Mode() Mode           { return ModeHidden }
func (Chat) Mode() Mode             { return ModeChat }
func (ReactionSelector) Mode() Mode { return ModeReactionSelector }
func (Reaction) Mode() Mode         { return ModeReaction }

func (Hidden) sealed()           {}
func (Chat) sealed()             {}
func (ReactionSelector) sealed() {}
func (Reaction) sealed()         {}
