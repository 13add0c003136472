package world

import "math"

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vec3) IsZero() bool {
	return v == Vec3{}
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (v Vec3) Distance(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Quaternion is a rotation. The zero value is not a valid rotation, use IdentityRotation.
type Quaternion struct {
	X, Y, Z, W float64
}

var IdentityRotation = Quaternion{W: 1} //nolint:gochecknoglobals // constant value

// Transform is the position, rotation and scale of an entity. Its position decides which region
// owns the entity.
type Transform struct {
	Position Vec3       `json:"position"`
	Rotation Quaternion `json:"rotation"`
	Scale    Vec3       `json:"scale"`
}

// NewTransform returns a transform at position with no rotation and unit scale.
func NewTransform(position Vec3) Transform {
	return Transform{
		Position: position,
		Rotation: IdentityRotation,
		Scale:    Vec3{X: 1, Y: 1, Z: 1},
	}
}

// IsFinite reports whether every component of the transform is a finite number.
func (t Transform) IsFinite() bool {
	q := t.Rotation
	return t.Position.IsFinite() && t.Scale.IsFinite() &&
		isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z) && isFinite(q.W)
}

// Translated returns t moved by delta.
func (t Transform) Translated(delta Vec3) Transform {
	t.Position = t.Position.Add(delta)
	return t
}
