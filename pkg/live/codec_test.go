package live

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recera/livecanvas/pkg/presence"
)

func ptr[T any](v T) *T { return &v }

func TestEncoder_Uvarint(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.WriteUvarint(300))
	// 300 = 0b100101100 -> 0xAC 0x02
	assert.Equal(t, []byte{0xAC, 0x02}, buf.Bytes())

	dec := NewDecoder(bytes.NewReader(buf.Bytes()))
	v, err := dec.ReadUvarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)
}

func TestEncoder_Float64IsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).WriteFloat64(1))

	// IEEE 754 1.0 = 0x3FF0000000000000
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}, buf.Bytes())
}

func TestHello_RoundTrip(t *testing.T) {
	in := Hello{
		Self: 7,
		Records: []presence.Presence{
			{ConnectionID: 1},
			{ConnectionID: 2, Cursor: &presence.Point{X: 10.5, Y: -3}},
			{ConnectionID: 3, Cursor: &presence.Point{X: 1, Y: 2}, Message: ptr("hello")},
		},
	}

	data := EncodeHello(in)
	assert.Equal(t, byte(FrameHello), data[0])

	out, err := DecodeHello(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPresence_AbsentFieldsStayAbsent(t *testing.T) {
	out, err := DecodePresence(EncodePresence(presence.Presence{ConnectionID: 4, Message: ptr("")}))
	require.NoError(t, err)

	assert.Nil(t, out.Cursor)
	require.NotNil(t, out.Message)
	assert.Equal(t, "", *out.Message)
}

func TestUpdate_PreservesTouchedAndCleared(t *testing.T) {
	cases := []struct {
		name string
		u    presence.Update
	}{
		{"set cursor", presence.SetCursor(presence.Point{X: 100, Y: 170})},
		{"clear cursor", presence.ClearCursor()},
		{"set message", presence.SetMessage("hi")},
		{"leave", presence.ClearCursor().WithMessage(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from, u, err := DecodeUpdate(EncodeUpdate(3, tc.u))
			require.NoError(t, err)
			assert.Equal(t, presence.ConnectionID(3), from)
			assert.Equal(t, tc.u.Fields(), u.Fields())

			base := presence.Presence{
				ConnectionID: 3,
				Cursor:       &presence.Point{X: 1, Y: 1},
				Message:      ptr("old"),
			}
			assert.Equal(t, tc.u.Apply(base), u.Apply(base))
		})
	}
}

func TestReactionAndLeave_RoundTrip(t *testing.T) {
	r := presence.Reaction{From: 2, Glyph: "🔥", Point: presence.Point{X: 5, Y: 6}}
	got, err := DecodeReaction(EncodeReaction(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)

	id, err := DecodeLeave(EncodeLeave(99))
	require.NoError(t, err)
	assert.Equal(t, presence.ConnectionID(99), id)
}

func TestControl_KindAndText(t *testing.T) {
	c, err := DecodeControl(EncodeControl(ControlError, "presence: write refused"))
	require.NoError(t, err)
	assert.Equal(t, ControlError, c.Kind)
	assert.Equal(t, "presence: write refused", c.Text)

	c, err = DecodeControl(EncodeControl(ControlPing, ""))
	require.NoError(t, err)
	assert.Equal(t, ControlPing, c.Kind)
	assert.Empty(t, c.Text)
}

func TestDecode_Errors(t *testing.T) {
	_, err := FrameType(nil)
	assert.Error(t, err)

	_, err = FrameType([]byte{0x42})
	assert.True(t, errors.Is(err, ErrUnknownFrame))

	_, err = DecodeHello(EncodeLeave(1))
	assert.Error(t, err, "wrong frame type must be rejected")

	full := EncodePresence(presence.Presence{ConnectionID: 1, Cursor: &presence.Point{X: 1, Y: 2}})
	_, err = DecodePresence(full[:len(full)-3])
	assert.Error(t, err, "truncated record must be rejected")

	// A string length beyond the limit is refused before allocating.
	var buf bytes.Buffer
	buf.WriteByte(byte(FrameControl))
	NewEncoder(&buf).WriteUvarint(maxStringLen + 1)
	_, err = DecodeControl(buf.Bytes())
	assert.Error(t, err)
}

func TestDecodeHello_CountBeyondPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(FrameHello))
	enc := NewEncoder(&buf)
	enc.WriteUvarint(1)
	enc.WriteUvarint(maxRecords)

	_, err := DecodeHello(buf.Bytes())
	assert.Error(t, err, "missing records must be rejected")

	assert.Equal(t, 2, recordCapacity(maxRecords, 5))
	assert.Equal(t, 3, recordCapacity(3, 100))
	assert.Equal(t, 0, recordCapacity(10, 1))
}
