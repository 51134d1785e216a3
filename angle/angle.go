package angle

import (
	"fmt"
	"math"
)

// Angle is stored in degrees.
type Angle float64

func Degrees(d float64) Angle {
	return Angle(d)
}

func Radians(r float64) Angle {
	return Angle(r * 180 / math.Pi)
}

func (a Angle) Degrees() float64 {
	return float64(a)
}

func (a Angle) Radians() float64 {
	return float64(a) * math.Pi / 180
}

func (a Angle) String() string {
	return fmt.Sprintf("%g°", float64(a))
}

const (
	Closed Angle = 0
	Open   Angle = 90
	Max    Angle = 180
)
