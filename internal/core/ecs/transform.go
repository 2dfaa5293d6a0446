package ecs

import (
	"errors"
	"math"
)

// ErrInvalidTransform is returned when a transform carries NaN/Inf components
// or collapses an axis to zero scale.
var ErrInvalidTransform = errors.New("invalid transform")

type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Finite reports whether no component is NaN or infinite.
func (v Vec3) Finite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Transform is position, euler rotation (radians) and scale.
type Transform struct {
	Position Vec3
	Rotation Vec3
	Scale    Vec3
}

// Identity returns a transform at the origin with unit scale.
func Identity() Transform {
	return Transform{Scale: Vec3{1, 1, 1}}
}

func (t Transform) Validate() error {
	if !t.Position.Finite() || !t.Rotation.Finite() || !t.Scale.Finite() {
		return ErrInvalidTransform
	}
	if t.Scale.X == 0 || t.Scale.Y == 0 || t.Scale.Z == 0 {
		return ErrInvalidTransform
	}
	return nil
}
