// Package bots drives the paddle of a slot without a human occupant. The
// controller only ever proposes a velocity; integration happens through the
// same physics rules that bind human paddles, so the computer cannot teleport.
package bots

import "paddlearena/broker/internal/physics"

// Controller computes velocity commands for a computer controlled paddle.
type Controller struct {
	maxSpeed float64
	gain     float64
}

// Option configures optional controller parameters at construction time.
type Option func(*Controller)

// WithMaxSpeed overrides the velocity cap applied to the computed command.
func WithMaxSpeed(limit float64) Option {
	return func(c *Controller) {
		//1.- Ignore non-positive limits so the shared paddle cap stays in force.
		if limit > 0 {
			c.maxSpeed = limit
		}
	}
}

// WithGain overrides how aggressively the paddle chases the ball.
func WithGain(gain float64) Option {
	return func(c *Controller) {
		if gain > 0 {
			c.gain = gain
		}
	}
}

// NewController constructs a controller bound by the shared paddle speed limit.
func NewController(opts ...Option) *Controller {
	controller := &Controller{
		maxSpeed: physics.MaxPaddleSpeed,
		gain:     4.0,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(controller)
		}
	}
	return controller
}

// Steer returns the vertical velocity command for one tick: proportional to
// the offset between ball and paddle, clamped to the configured cap.
func (c *Controller) Steer(ball physics.Ball, paddle physics.Paddle) float64 {
	if c == nil {
		return 0
	}
	//1.- Chase the ball with a proportional response to the vertical offset.
	desired := (ball.Y - paddle.Y) * c.gain
	//2.- Clamp to the cap so the computer obeys the same limits as a human.
	return physics.Clamp(desired, -c.maxSpeed, c.maxSpeed)
}
