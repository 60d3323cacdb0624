package rrangingsim

import (
	"math"

	"github.com/gordian-engine/radar/rranging"
)

func normalize(d rranging.Direction) rranging.Direction {
	n := math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
	if n == 0 {
		return rranging.Direction{Y: 1}
	}
	return rranging.Direction{X: d.X / n, Y: d.Y / n, Z: d.Z / n}
}
