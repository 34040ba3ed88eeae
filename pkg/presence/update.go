package presence

// Field is a bit in the set of fields an Update touches.
type Field uint8

const (
	FieldCursor Field = 1 << iota
	FieldMessage
)

// Update is a partial record. Each touched field is either set to a value or
// cleared; untouched fields keep their current value when applied.
type Update struct {
	fields  Field
	cursor  *Point
	message *string
}

// SetCursor returns an update that places the cursor at p.
func SetCursor(p Point) Update {
	return Update{}.WithCursor(&p)
}

// ClearCursor returns an update that removes the cursor.
func ClearCursor() Update {
	return Update{}.WithCursor(nil)
}

// SetMessage returns an update that sets the message to m.
func SetMessage(m string) Update {
	return Update{}.WithMessage(&m)
}

// ClearMessage returns an update that removes the message.
func ClearMessage() Update {
	return Update{}.WithMessage(nil)
}

// WithCursor touches the cursor field. A nil p clears it.
func (u Update) WithCursor(p *Point) Update {
	u.fields |= FieldCursor
	if p == nil {
		u.cursor = nil
		return u
	}
	c := *p
	u.cursor = &c
	return u
}

// WithMessage touches the message field. A nil m clears it.
func (u Update) WithMessage(m *string) Update {
	u.fields |= FieldMessage
	if m == nil {
		u.message = nil
		return u
	}
	s := *m
	u.message = &s
	return u
}

// Has reports whether the update touches f.
func (u Update) Has(f Field) bool {
	return u.fields&f != 0
}

// Empty reports whether the update touches nothing.
func (u Update) Empty() bool {
	return u.fields == 0
}

// Fields returns the touched field set.
func (u Update) Fields() Field {
	return u.fields
}

// Cursor returns the cursor value and whether the field is touched.
func (u Update) Cursor() (*Point, bool) {
	if !u.Has(FieldCursor) {
		return nil, false
	}
	if u.cursor == nil {
		return nil, true
	}
	c := *u.cursor
	return &c, true
}

// Message returns the message value and whether the field is touched.
func (u Update) Message() (*string, bool) {
	if !u.Has(FieldMessage) {
		return nil, false
	}
	if u.message == nil {
		return nil, true
	}
	m := *u.message
	return &m, true
}

// Apply returns a copy of p with the touched fields replaced.
func (u Update) Apply(p Presence) Presence {
	out := p.Clone()
	if c, ok := u.Cursor(); ok {
		out.Cursor = c
	}
	if m, ok := u.Message(); ok {
		out.Message = m
	}
	return out
}
