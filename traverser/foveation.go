package traverser

import "github.com/chewxy/math32"

// Foveation shape resolution: both falloff ranges
// — full resolution to cone-foveate, and cone-foveate to behind-foveate —
// use a cubic smoothstep (3t²-2t³) rather than a linear ramp, giving a
// continuous derivative at both range boundaries so the selected cut has no
// visible detail seam at the cone edges.
func smoothstep(t float32) float32 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

// foveationParams is the per-instance foveation shape.
type foveationParams struct {
	behindFoveate float32
	coneFov0Deg   float32
	coneFovDeg    float32
	coneFoveate   float32
}

// foveation evaluates the foveation scalar for a node given the cosine of
// the angle between the view axis and the camera-to-node direction
// (dot == 1 means directly ahead, dot == -1 means directly behind).
func foveation(dot float32, p foveationParams) float32 {
	halfCone0 := math32.Cos(deg2rad(p.coneFov0Deg) / 2)
	halfCone := math32.Cos(deg2rad(p.coneFovDeg) / 2)

	if dot >= halfCone0 {
		return 1
	}
	if dot >= halfCone {
		denom := halfCone0 - halfCone
		if denom < 1e-6 {
			return p.coneFoveate
		}
		t := (dot - halfCone) / denom
		return lerp(p.coneFoveate, 1, smoothstep(t))
	}
	denom := halfCone - (-1)
	if denom < 1e-6 {
		return p.behindFoveate
	}
	t := (dot - (-1)) / denom
	return lerp(p.behindFoveate, p.coneFoveate, smoothstep(t))
}

func deg2rad(d float32) float32 { return d * (math32.Pi / 180) }
