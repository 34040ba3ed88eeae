package live

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/recera/livecanvas/pkg/presence"
)

const (
	// maxStringLen bounds decoded strings (chat messages, glyphs).
	maxStringLen = 64 << 10

	// maxRecords bounds the record count of a hello frame.
	maxRecords = 1 << 16
)

// Record flags
const (
	recordCursor  = 1 << 0
	recordMessage = 1 << 1
)

// Update mask bits
const (
	maskCursorTouched  = 1 << 0
	maskCursorSet      = 1 << 1
	maskMessageTouched = 1 << 2
	maskMessageSet     = 1 << 3
)

// Encoder handles encoding of live protocol messages
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new encoder
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteUvarint writes an unsigned varint
func (e *Encoder) WriteUvarint(v uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	_, err := e.w.Write(buf[:n])
	return err
}

// WriteString writes a length-prefixed string
func (e *Encoder) WriteString(s string) error {
	if err := e.WriteUvarint(uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, s)
	return err
}

// WriteBytes writes raw bytes
func (e *Encoder) WriteBytes(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

// WriteFloat64 writes the IEEE bits of v, little-endian.
func (e *Encoder) WriteFloat64(v float64) error {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return e.WriteBytes(tmp[:])
}

// WritePoint writes x then y.
func (e *Encoder) WritePoint(p presence.Point) error {
	if err := e.WriteFloat64(p.X); err != nil {
		return err
	}
	return e.WriteFloat64(p.Y)
}

// WriteRecord writes a full presence record.
func (e *Encoder) WriteRecord(p presence.Presence) error {
	var flags byte
	if p.Cursor != nil {
		flags |= recordCursor
	}
	if p.Message != nil {
		flags |= recordMessage
	}
	if err := e.WriteUvarint(uint64(p.ConnectionID)); err != nil {
		return err
	}
	if err := e.WriteBytes([]byte{flags}); err != nil {
		return err
	}
	if p.Cursor != nil {
		if err := e.WritePoint(*p.Cursor); err != nil {
			return err
		}
	}
	if p.Message != nil {
		return e.WriteString(*p.Message)
	}
	return nil
}

// Decoder handles decoding of live protocol messages
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder creates a new decoder
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, 256),
	}
}

// ReadUvarint reads an unsigned varint
func (d *Decoder) ReadUvarint() (uint64, error) {
	return binary.ReadUvarint(d)
}

// ReadByte implements io.ByteReader
func (d *Decoder) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadString reads a length-prefixed string
func (d *Decoder) ReadString() (string, error) {
	length, err := d.ReadUvarint()
	if err != nil {
		return "", err
	}
	if length > maxStringLen {
		return "", errTooLarge
	}

	if length > uint64(len(d.buf)) {
		d.buf = make([]byte, length)
	}

	n, err := io.ReadFull(d.r, d.buf[:length])
	if err != nil {
		return "", err
	}

	return string(d.buf[:n]), nil
}

// ReadFloat64 reads a little-endian IEEE float.
func (d *Decoder) ReadFloat64() (float64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(d.r, tmp[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(tmp[:])), nil
}

// ReadPoint reads x then y.
func (d *Decoder) ReadPoint() (presence.Point, error) {
	x, err := d.ReadFloat64()
	if err != nil {
		return presence.Point{}, err
	}
	y, err := d.ReadFloat64()
	if err != nil {
		return presence.Point{}, err
	}
	return presence.Point{X: x, Y: y}, nil
}

// ReadID reads a connection id.
func (d *Decoder) ReadID() (presence.ConnectionID, error) {
	v, err := d.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, errTooLarge
	}
	return presence.ConnectionID(v), nil
}

// ReadRecord reads a full presence record. Fields whose flag is unset are
// left absent.
func (d *Decoder) ReadRecord() (presence.Presence, error) {
	id, err := d.ReadID()
	if err != nil {
		return presence.Presence{}, err
	}
	flags, err := d.ReadByte()
	if err != nil {
		return presence.Presence{}, err
	}

	p := presence.Presence{ConnectionID: id}
	if flags&recordCursor != 0 {
		pt, err := d.ReadPoint()
		if err != nil {
			return presence.Presence{}, err
		}
		p.Cursor = &pt
	}
	if flags&recordMessage != 0 {
		msg, err := d.ReadString()
		if err != nil {
			return presence.Presence{}, err
		}
		p.Message = &msg
	}
	return p, nil
}

// FrameType returns the type byte of a frame.
func FrameType(data []byte) (MessageType, error) {
	if len(data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	t := MessageType(data[0])
	if t > FrameControl {
		return t, fmt.Errorf("%w: 0x%02x", ErrUnknownFrame, data[0])
	}
	return t, nil
}

func frame(t MessageType) (*bytes.Buffer, *Encoder) {
	var buf bytes.Buffer
	buf.WriteByte(byte(t))
	return &buf, NewEncoder(&buf)
}

func body(data []byte, want MessageType) (*Decoder, error) {
	t, err := FrameType(data)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("live: expected %s frame, got %s", want, t)
	}
	return NewDecoder(bytes.NewReader(data[1:])), nil
}

// EncodeHello encodes the hello frame for connection self.
func EncodeHello(h Hello) []byte {
	buf, enc := frame(FrameHello)
	enc.WriteUvarint(uint64(h.Self))
	enc.WriteUvarint(uint64(len(h.Records)))
	for _, p := range h.Records {
		enc.WriteRecord(p)
	}
	return buf.Bytes()
}

// DecodeHello decodes a hello frame.
func DecodeHello(data []byte) (Hello, error) {
	d, err := body(data, FrameHello)
	if err != nil {
		return Hello{}, err
	}
	self, err := d.ReadID()
	if err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	n, err := d.ReadUvarint()
	if err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	if n > maxRecords {
		return Hello{}, fmt.Errorf("decode hello: %w", errTooLarge)
	}
	h := Hello{Self: self, Records: make([]presence.Presence, 0, recordCapacity(n, len(data)))}
	for i := uint64(0); i < n; i++ {
		p, err := d.ReadRecord()
		if err != nil {
			return Hello{}, fmt.Errorf("decode hello record %d: %w", i, err)
		}
		h.Records = append(h.Records, p)
	}
	return h, nil
}

// recordCapacity bounds a wire-supplied record count by what size bytes can
// hold; a record takes at least an id byte and a flags byte.
func recordCapacity(n uint64, size int) int {
	return int(min(n, uint64(size/2)))
}

// EncodePresence encodes one full record.
func EncodePresence(p presence.Presence) []byte {
	buf, enc := frame(FramePresence)
	enc.WriteRecord(p)
	return buf.Bytes()
}

// DecodePresence decodes a presence frame.
func DecodePresence(data []byte) (presence.Presence, error) {
	d, err := body(data, FramePresence)
	if err != nil {
		return presence.Presence{}, err
	}
	p, err := d.ReadRecord()
	if err != nil {
		return presence.Presence{}, fmt.Errorf("decode presence: %w", err)
	}
	return p, nil
}

// EncodeLeave encodes a leave frame.
func EncodeLeave(id presence.ConnectionID) []byte {
	buf, enc := frame(FrameLeave)
	enc.WriteUvarint(uint64(id))
	return buf.Bytes()
}

// DecodeLeave decodes a leave frame.
func DecodeLeave(data []byte) (presence.ConnectionID, error) {
	d, err := body(data, FrameLeave)
	if err != nil {
		return 0, err
	}
	id, err := d.ReadID()
	if err != nil {
		return 0, fmt.Errorf("decode leave: %w", err)
	}
	return id, nil
}

// EncodeUpdate encodes a partial update sent by from.
func EncodeUpdate(from presence.ConnectionID, u presence.Update) []byte {
	buf, enc := frame(FrameUpdate)
	enc.WriteUvarint(uint64(from))

	var mask byte
	cursor, cursorTouched := u.Cursor()
	message, messageTouched := u.Message()
	if cursorTouched {
		mask |= maskCursorTouched
		if cursor != nil {
			mask |= maskCursorSet
		}
	}
	if messageTouched {
		mask |= maskMessageTouched
		if message != nil {
			mask |= maskMessageSet
		}
	}
	enc.WriteBytes([]byte{mask})

	if cursor != nil {
		enc.WritePoint(*cursor)
	}
	if message != nil {
		enc.WriteString(*message)
	}
	return buf.Bytes()
}

// DecodeUpdate decodes an update frame.
func DecodeUpdate(data []byte) (presence.ConnectionID, presence.Update, error) {
	d, err := body(data, FrameUpdate)
	if err != nil {
		return 0, presence.Update{}, err
	}
	from, err := d.ReadID()
	if err != nil {
		return 0, presence.Update{}, fmt.Errorf("decode update: %w", err)
	}
	mask, err := d.ReadByte()
	if err != nil {
		return 0, presence.Update{}, fmt.Errorf("decode update: %w", err)
	}

	var u presence.Update
	if mask&maskCursorTouched != 0 {
		var cursor *presence.Point
		if mask&maskCursorSet != 0 {
			pt, err := d.ReadPoint()
			if err != nil {
				return 0, presence.Update{}, fmt.Errorf("decode update cursor: %w", err)
			}
			cursor = &pt
		}
		u = u.WithCursor(cursor)
	}
	if mask&maskMessageTouched != 0 {
		var message *string
		if mask&maskMessageSet != 0 {
			msg, err := d.ReadString()
			if err != nil {
				return 0, presence.Update{}, fmt.Errorf("decode update message: %w", err)
			}
			message = &msg
		}
		u = u.WithMessage(message)
	}
	return from, u, nil
}

// EncodeReaction encodes a reaction frame.
func EncodeReaction(r presence.Reaction) []byte {
	buf, enc := frame(FrameReaction)
	enc.WriteUvarint(uint64(r.From))
	enc.WriteString(r.Glyph)
	enc.WritePoint(r.Point)
	return buf.Bytes()
}

// DecodeReaction decodes a reaction frame.
func DecodeReaction(data []byte) (presence.Reaction, error) {
	d, err := body(data, FrameReaction)
	if err != nil {
		return presence.Reaction{}, err
	}
	from, err := d.ReadID()
	if err != nil {
		return presence.Reaction{}, fmt.Errorf("decode reaction: %w", err)
	}
	glyph, err := d.ReadString()
	if err != nil {
		return presence.Reaction{}, fmt.Errorf("decode reaction: %w", err)
	}
	pt, err := d.ReadPoint()
	if err != nil {
		return presence.Reaction{}, fmt.Errorf("decode reaction: %w", err)
	}
	return presence.Reaction{From: from, Glyph: glyph, Point: pt}, nil
}

// EncodeControl encodes a control message. Text is appended after a space.
func EncodeControl(kind, text string) []byte {
	buf, enc := frame(FrameControl)
	msg := kind
	if text != "" {
		msg += " " + text
	}
	enc.WriteString(msg)
	return buf.Bytes()
}

// DecodeControl decodes a control frame.
func DecodeControl(data []byte) (Control, error) {
	d, err := body(data, FrameControl)
	if err != nil {
		return Control{}, err
	}
	msg, err := d.ReadString()
	if err != nil {
		return Control{}, fmt.Errorf("decode control: %w", err)
	}
	kind, text, _ := strings.Cut(msg, " ")
	return Control{Kind: kind, Text: text}, nil
}
