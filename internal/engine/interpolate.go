package engine

// Velocity returns the vertical displacement for a bounce at the given frame.
//
// The curve is a parabola over t = frame/maxFrames that is zero at both ends
// and peaks at t = 0.5. The amplitude is maxVelocity squared (peak value
// maxVelocity²/2), which is how existing avatar configurations were tuned, so
// a max_velocity of 12 peaks at 72 pixels. A zero or negative maxFrames yields
// 0.
func Velocity(maxVelocity float64, frame, maxFrames int32) float64 {
	if maxFrames <= 0 {
		return 0
	}
	t := float64(frame) / float64(maxFrames)
	return 2 * (1 - t) * t * maxVelocity * maxVelocity
}
