package cursor

import "github.com/recera/livecanvas/pkg/presence"

// ToLocal converts device coordinates into coordinates relative to the
// surface origin.
func ToLocal(deviceX, deviceY, originX, originY float64) (float64, float64) {
	return deviceX - originX, deviceY - originY
}

// Bounds is the device-space bounding box of the interactive surface.
type Bounds struct {
	X, Y          float64
	Width, Height float64
}

// Contains reports whether the device point lies inside the box. The right
// and bottom edges are exclusive.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.X && y >= b.Y && x < b.X+b.Width && y < b.Y+b.Height
}

// Mapper maps device coordinates onto the surface. The zero value is an
// unmeasured surface with origin (0,0).
type Mapper struct {
	bounds   Bounds
	measured bool
}

// SetBounds records the measured surface box.
func (m *Mapper) SetBounds(b Bounds) {
	m.bounds = b
	m.measured = true
}

// Reset forgets the measured box.
func (m *Mapper) Reset() {
	m.bounds = Bounds{}
	m.measured = false
}

// Bounds returns the measured box and whether one is known.
func (m *Mapper) Bounds() (Bounds, bool) {
	return m.bounds, m.measured
}

// Local maps a device point to canvas-local coordinates. When the surface is
// not measured yet the origin is (0,0) and measured is false.
func (m *Mapper) Local(deviceX, deviceY float64) (p presence.Point, measured bool) {
	x, y := ToLocal(deviceX, deviceY, m.bounds.X, m.bounds.Y)
	return presence.Point{X: x, Y: y}, m.measured
}

// Contains reports whether the device point is on the surface. Without a
// measured box every point counts as inside.
func (m *Mapper) Contains(deviceX, deviceY float64) bool {
	if !m.measured {
		return true
	}
	return m.bounds.Contains(deviceX, deviceY)
}
