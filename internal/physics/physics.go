// Package physics implements the pure, deterministic simulation step for a
// two-paddle arcade match. Every function operates on plain values and is
// safe to call from the single goroutine that owns a match.
package physics

import "math"

const (
	// FieldWidth is the horizontal extent of the playing field.
	FieldWidth = 200.0
	// FieldHeight is the vertical extent of the playing field.
	FieldHeight = 150.0

	// PaddleWidth is the horizontal thickness of a paddle.
	PaddleWidth = 4.0
	// PaddleHeight is the vertical extent of a paddle.
	PaddleHeight = 30.0
	// PaddleInsetX is how far each paddle face sits from its own goal line.
	PaddleInsetX = 10.0
	// MaxPaddleSpeed caps vertical paddle velocity for humans and the computer alike.
	MaxPaddleSpeed = 120.0

	// BallHalfSize treats the ball as a small axis-aligned square for collision tests.
	BallHalfSize = 2.0
	// InitialBallSpeed is the serve speed at the start of every rally.
	InitialBallSpeed = 60.0
	// SpeedGrowth multiplies ball speed on every paddle collision.
	SpeedGrowth = 1.05

	// impactSteer scales how far off-center hits deflect the rebound.
	impactSteer = 1.5
	// paddleSpin scales how much paddle motion bends the rebound.
	paddleSpin = 0.1
)

// Paddle is the mutable state of one player's paddle.
type Paddle struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VY float64 `json:"vy"`
}

// Ball is the mutable state of the ball.
type Ball struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Speed float64 `json:"speed"`
}

// Outcome reports whether a step produced a score.
type Outcome int

const (
	// NoScore means the rally continues.
	NoScore Outcome = iota
	// ScoreA means the ball left the field past B's goal line, so slot A wins.
	ScoreA
	// ScoreB means the ball left the field past A's goal line, so slot B wins.
	ScoreB
)

// StepResult summarises the side effects of one physics step.
type StepResult struct {
	Outcome      Outcome
	WallBounce   bool
	PaddleBounce bool
}

// NewPaddleA returns slot A's paddle centred on its goal line inset.
func NewPaddleA() Paddle {
	return Paddle{X: PaddleInsetX, Y: FieldHeight / 2}
}

// NewPaddleB returns slot B's paddle centred on its goal line inset.
func NewPaddleB() Paddle {
	return Paddle{X: FieldWidth - PaddleInsetX, Y: FieldHeight / 2}
}

// NewBall returns a ball at rest in the centre of the field.
func NewBall() Ball {
	return Ball{X: FieldWidth / 2, Y: FieldHeight / 2}
}

// Serve re-centres the ball and launches it horizontally toward the given side.
func Serve(b *Ball, towardA bool) {
	if b == nil {
		return
	}
	//1.- Reset position to the centre so every rally starts identically.
	b.X = FieldWidth / 2
	b.Y = FieldHeight / 2
	//2.- Launch flat at the serve speed, direction chosen by the caller.
	b.Speed = InitialBallSpeed
	b.VY = 0
	if towardA {
		b.VX = -InitialBallSpeed
	} else {
		b.VX = InitialBallSpeed
	}
}

// IntegrateBall advances the ball position by velocity over the timestep.
func IntegrateBall(b *Ball, dt float64) {
	if b == nil || dt <= 0 {
		return
	}
	b.X += b.VX * dt
	b.Y += b.VY * dt
}

// IntegratePaddle advances a paddle by its vertical velocity, clamped to the field.
func IntegratePaddle(p *Paddle, dt float64) {
	if p == nil || dt <= 0 {
		return
	}
	//1.- Cap the commanded velocity so no paddle outruns the shared speed limit.
	p.VY = Clamp(p.VY, -MaxPaddleSpeed, MaxPaddleSpeed)
	//2.- Integrate and keep the paddle centre inside the field bounds.
	p.Y = ClampPaddleY(p.Y + p.VY*dt)
}

// ClampPaddleY bounds a paddle centre so the paddle body stays on the field.
func ClampPaddleY(y float64) float64 {
	return Clamp(y, PaddleHeight/2, FieldHeight-PaddleHeight/2)
}

// BounceWalls inverts vertical velocity when the ball touches the top or bottom wall.
func BounceWalls(b *Ball) bool {
	if b == nil {
		return false
	}
	if b.Y <= 0 || b.Y >= FieldHeight {
		b.VY = -b.VY
		return true
	}
	return false
}

// CollidePaddle tests the ball square against the paddle box and applies the rebound.
func CollidePaddle(b *Ball, p *Paddle) bool {
	if b == nil || p == nil {
		return false
	}
	//1.- Run the axis-aligned overlap test between the ball square and paddle box.
	if math.Abs(b.X-p.X) > PaddleWidth/2+BallHalfSize {
		return false
	}
	if math.Abs(b.Y-p.Y) > PaddleHeight/2+BallHalfSize {
		return false
	}
	//2.- Only rebound when the ball is travelling into the paddle face.
	if (b.X < p.X && b.VX < 0) || (b.X > p.X && b.VX > 0) {
		return false
	}
	//3.- Derive the rebound factor from the impact offset and paddle motion.
	impact := Clamp((b.Y-p.Y)/(PaddleHeight/2), -1, 1)
	factor := Clamp(impact*impactSteer+p.VY*paddleSpin, -1, 1)
	//4.- Grow speed and rebuild the velocity from the horizontal flip and factor.
	horizontal := 1.0
	if b.VX > 0 {
		horizontal = -1.0
	}
	b.Speed *= SpeedGrowth
	b.VX = horizontal * b.Speed
	b.VY = factor * b.Speed
	return true
}

// DetectScore reports a terminal outcome when the ball has crossed a goal line.
func DetectScore(b *Ball) Outcome {
	if b == nil {
		return NoScore
	}
	if b.X < 0 {
		return ScoreB
	}
	if b.X > FieldWidth {
		return ScoreA
	}
	return NoScore
}

// Step runs one full physics pipeline pass: integration, wall bounce, paddle
// collision and scoring. Wall and paddle effects compose within the same step;
// a detected score halts nothing here, the caller owns the phase transition.
func Step(b *Ball, paddleA, paddleB *Paddle, dt float64) StepResult {
	var result StepResult
	if b == nil || dt <= 0 {
		return result
	}
	IntegrateBall(b, dt)
	result.WallBounce = BounceWalls(b)
	//1.- Test both paddles so a single step can compose wall and paddle rebounds.
	if CollidePaddle(b, paddleA) || CollidePaddle(b, paddleB) {
		result.PaddleBounce = true
	}
	result.Outcome = DetectScore(b)
	return result
}

// Clamp bounds a value to the inclusive [lo, hi] interval.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
