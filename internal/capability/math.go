package capability

import (
	"math"

	"github.com/l1jgo/scriptrt/internal/core/ecs"
)

// Math is the pure helper set exposed to behaviors.
type Math struct{}

func (Math) Clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// Lerp interpolates from a to b; t is not clamped.
func (Math) Lerp(a, b, t float64) float64 { return a + (b-a)*t }

func (Math) RadToDeg(r float64) float64 { return r * 180 / math.Pi }
func (Math) DegToRad(d float64) float64 { return d * math.Pi / 180 }

func (Math) Distance(a, b ecs.Vec3) float64 { return a.Sub(b).Length() }

// Round rounds half away from zero to the given number of decimals.
func (Math) Round(v float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(v)
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
