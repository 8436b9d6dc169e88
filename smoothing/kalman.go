package smoothing

import (
	"time"

	"github.com/golang/geo/r2"
)

// KalmanFilter is a constant-velocity filter over one image point.
// State is [x, y, vx, vy] in pixels and pixels/second.
type KalmanFilter struct {
	state [4]float64
	// Covariance matrix
	P [4][4]float64
	// Process noise scale
	q float64
	// Measurement noise
	R [2][2]float64

	lastUpdate  time.Time
	initialized bool
	now         func() time.Time
}

// NewKalmanFilter creates a filter with the given process and measurement
// noise. Larger processNoise follows the measurement more closely.
func NewKalmanFilter(processNoise, measurementNoise float64) *KalmanFilter {
	kf := &KalmanFilter{
		q:   processNoise,
		R:   [2][2]float64{{measurementNoise, 0}, {0, measurementNoise}},
		now: time.Now,
	}
	kf.Reset()
	return kf
}

// Update folds a new measurement into the filter and returns the filtered position
func (kf *KalmanFilter) Update(m r2.Point) r2.Point {
	t := kf.now()
	if !kf.initialized {
		kf.state = [4]float64{m.X, m.Y, 0, 0}
		kf.initialized = true
		kf.lastUpdate = t
		return m
	}

	dt := t.Sub(kf.lastUpdate).Seconds()
	if dt < 0.001 {
		dt = 0.001 // Minimum time step
	}
	kf.lastUpdate = t

	// Predict
	predicted := [4]float64{
		kf.state[0] + kf.state[2]*dt,
		kf.state[1] + kf.state[3]*dt,
		kf.state[2],
		kf.state[3],
	}
	P := kf.predictCovariance(dt)

	// Innovation and its covariance; H selects the position components
	innovation := [2]float64{m.X - predicted[0], m.Y - predicted[1]}
	S := [2][2]float64{
		{P[0][0] + kf.R[0][0], P[0][1] + kf.R[0][1]},
		{P[1][0] + kf.R[1][0], P[1][1] + kf.R[1][1]},
	}
	det := S[0][0]*S[1][1] - S[0][1]*S[1][0]
	if det == 0 {
		kf.state = predicted
		kf.P = P
		return kf.Position()
	}
	sInv := [2][2]float64{
		{S[1][1] / det, -S[0][1] / det},
		{-S[1][0] / det, S[0][0] / det},
	}

	// K = P Hᵀ S⁻¹, a 4x2 matrix
	var K [4][2]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 2; j++ {
			K[i][j] = P[i][0]*sInv[0][j] + P[i][1]*sInv[1][j]
		}
	}

	for i := 0; i < 4; i++ {
		kf.state[i] = predicted[i] + K[i][0]*innovation[0] + K[i][1]*innovation[1]
	}

	// P = (I - K H) P
	var newP [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			newP[i][j] = P[i][j] - (K[i][0]*P[0][j] + K[i][1]*P[1][j])
		}
	}
	kf.P = newP

	return kf.Position()
}

// predictCovariance returns F P Fᵀ + Q for time step dt
func (kf *KalmanFilter) predictCovariance(dt float64) [4][4]float64 {
	F := [4][4]float64{
		{1, 0, dt, 0},
		{0, 1, 0, dt},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}

	dt2 := dt * dt
	dt3 := dt2 * dt
	dt4 := dt3 * dt
	q := kf.q
	Q := [4][4]float64{
		{q * dt4 / 4, 0, q * dt3 / 2, 0},
		{0, q * dt4 / 4, 0, q * dt3 / 2},
		{q * dt3 / 2, 0, q * dt2, 0},
		{0, q * dt3 / 2, 0, q * dt2},
	}

	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			sum := 0.0
			for k := 0; k < 4; k++ {
				for l := 0; l < 4; l++ {
					sum += F[i][k] * kf.P[k][l] * F[j][l]
				}
			}
			out[i][j] = sum + Q[i][j]
		}
	}
	return out
}

// Predict extrapolates the position dt seconds past the last update
func (kf *KalmanFilter) Predict(dt float64) r2.Point {
	if !kf.initialized {
		return r2.Point{}
	}
	return r2.Point{X: kf.state[0] + kf.state[2]*dt, Y: kf.state[1] + kf.state[3]*dt}
}

// Position returns the current position estimate
func (kf *KalmanFilter) Position() r2.Point {
	return r2.Point{X: kf.state[0], Y: kf.state[1]}
}

// Velocity returns the current velocity estimate
func (kf *KalmanFilter) Velocity() r2.Point {
	return r2.Point{X: kf.state[2], Y: kf.state[3]}
}

// Initialized reports whether the filter has seen a measurement
func (kf *KalmanFilter) Initialized() bool {
	return kf.initialized
}

// Reset forgets all state
func (kf *KalmanFilter) Reset() {
	kf.initialized = false
	kf.state = [4]float64{}
	kf.P = [4][4]float64{}
	for i := 0; i < 4; i++ {
		kf.P[i][i] = 1000.0 // High initial uncertainty
	}
}
