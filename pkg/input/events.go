// Package input routes raw keyboard and pointer events into the cursor
// controller.
package input

// KeyPhase distinguishes key-down from key-up. Sources that only report
// presses, such as terminals, use KeyPress.
type KeyPhase uint8

const (
	KeyDown KeyPhase = iota
	KeyUp
	KeyPress
)

// Named keys. Printable keys use their character.
const (
	KeyEscape    = "Escape"
	KeyEnter     = "Enter"
	KeyBackspace = "Backspace"
)

// KeyEvent is a keyboard event captured at document level.
type KeyEvent struct {
	Key   string
	Phase KeyPhase
}

// PointerKind is the kind of pointer event.
type PointerKind uint8

const (
	PointerMove PointerKind = iota
	PointerDown
	PointerUp
	PointerLeave
)

func (k PointerKind) String() string {
	switch k {
	case PointerMove:
		return "move"
	case PointerDown:
		return "down"
	case PointerUp:
		return "up"
	case PointerLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// PointerEvent carries device coordinates. They are mapped to canvas-local
// coordinates before reaching the controller.
type PointerEvent struct {
	Kind PointerKind
	X, Y float64
}

// KeySource delivers keyboard events to a listener until stop is called.
type KeySource interface {
	ListenKeys(fn func(KeyEvent) (suppress bool)) (stop func())
}

// PointerSource delivers pointer events to a listener until stop is called.
type PointerSource interface {
	ListenPointer(fn func(PointerEvent)) (stop func())
}
