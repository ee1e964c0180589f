package bots

import (
	"testing"

	"paddlearena/broker/internal/physics"
)

func TestSteerChasesTheBall(t *testing.T) {
	controller := NewController()
	paddle := physics.Paddle{Y: 75}
	//1.- A ball above the paddle demands a negative (upward) command.
	if vy := controller.Steer(physics.Ball{Y: 50}, paddle); vy >= 0 {
		t.Fatalf("expected an upward command, got %v", vy)
	}
	//2.- A ball below the paddle demands a positive (downward) command.
	if vy := controller.Steer(physics.Ball{Y: 100}, paddle); vy <= 0 {
		t.Fatalf("expected a downward command, got %v", vy)
	}
	//3.- A perfectly aligned ball produces no motion at all.
	if vy := controller.Steer(physics.Ball{Y: 75}, paddle); vy != 0 {
		t.Fatalf("expected no command when aligned, got %v", vy)
	}
}

func TestSteerHonoursVelocityCap(t *testing.T) {
	controller := NewController(WithMaxSpeed(40))
	paddle := physics.Paddle{Y: 0}
	vy := controller.Steer(physics.Ball{Y: physics.FieldHeight}, paddle)
	if vy != 40 {
		t.Fatalf("expected the command capped at 40, got %v", vy)
	}
}

func TestSteerScalesWithOffset(t *testing.T) {
	controller := NewController(WithGain(2), WithMaxSpeed(1000))
	paddle := physics.Paddle{Y: 70}
	near := controller.Steer(physics.Ball{Y: 75}, paddle)
	far := controller.Steer(physics.Ball{Y: 120}, paddle)
	if far <= near {
		t.Fatalf("expected a stronger response to a larger offset, got %v vs %v", near, far)
	}
	if near != 10 {
		t.Fatalf("expected a proportional response of 10, got %v", near)
	}
}
