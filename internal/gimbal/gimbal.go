// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gimbal implements the pixel-delta to pan/tilt PID controller
// named in the original source's gimbal.cxx/gimbal.hpp: a
// proportional-derivative loop per axis that turns a tracked object's
// offset from frame center into a servo position. cmd/tracker publishes
// its samples through transport.PublishServoControl, which forwards them
// whenever this peer's Authority Gate is enabled; the gate is enabled on
// every peer that reaches SteadyState, whatever its role.
package gimbal

// Limits mirror the original source's S0/S1 servo position bounds.
const (
	MinPosition = -200
	MaxPosition = 200
)

// Axis is one proportional-derivative control loop, grounded on the
// original source's GimbalParams struct (position, previous_error,
// proportional_gain, derivative_gain).
type Axis struct {
	position         int32
	previousError    int32
	proportionalGain int32
	derivativeGain   int32
}

// NewAxis constructs an Axis with the given PID gains, centered at 0.
func NewAxis(proportionalGain, derivativeGain int32) *Axis {
	return &Axis{proportionalGain: proportionalGain, derivativeGain: derivativeGain}
}

// Update folds one new pixel-offset error into the axis's running
// position and returns the updated, clamped servo position.
func (a *Axis) Update(errorValue int32) int32 {
	derivative := errorValue - a.previousError
	delta := (errorValue*a.proportionalGain + derivative*a.derivativeGain) / 1000
	a.position += delta
	a.previousError = errorValue

	if a.position < MinPosition {
		a.position = MinPosition
	}
	if a.position > MaxPosition {
		a.position = MaxPosition
	}
	return a.position
}

// Position returns the axis's current servo position without updating it.
func (a *Axis) Position() int32 {
	return a.position
}

// Controller drives the pan and tilt axes together from one observation
// sample, grounded on gimbal.hpp's Gimbal class (update_pan/update_tilt
// plus get_pan_position/get_tilt_position).
type Controller struct {
	Pan  *Axis
	Tilt *Axis
}

// NewController constructs a Controller with the gain defaults named in
// the original source (PAN_PROPORTIONAL_GAIN/PAN_DERIVATIVE_GAIN,
// TILT_PROPORTIONAL_GAIN/TILT_DERIVATIVE_GAIN).
func NewController() *Controller {
	return &Controller{
		Pan:  NewAxis(300, 200),
		Tilt: NewAxis(350, 300),
	}
}

// ServoFrequencyHz is the fixed servo refresh rate named in the original
// source's SERVO_FREQUENCY_HZ, carried on every sample as spec §6's wire
// shape requires even though this peer never varies it.
const ServoFrequencyHz = 60

// Sample is one servo_control payload: pan and tilt positions shifted
// into the unsigned range MinPosition..MaxPosition maps onto, plus the
// fixed refresh rate, matching spec §6's {pan: u16, tilt: u16,
// frequency: u16} wire shape.
type Sample struct {
	Pan       uint16
	Tilt      uint16
	Frequency uint16
}

// UpdateFromOffset folds one observation's (panError, tiltError) pixel
// offset from frame center into both axes and returns the resulting
// servo sample, with each axis's signed position shifted up by
// -MinPosition so it fits the wire shape's unsigned pan/tilt fields.
func (c *Controller) UpdateFromOffset(panError, tiltError int32) Sample {
	return Sample{
		Pan:       uint16(c.Pan.Update(panError) - MinPosition),
		Tilt:      uint16(c.Tilt.Update(tiltError) - MinPosition),
		Frequency: ServoFrequencyHz,
	}
}
