package controller

import (
	"errors"
	"fmt"
)

// Component names used to tag cycle errors.
const (
	ComponentSensors   = "sensors"
	ComponentSafety    = "safety"
	ComponentOracle    = "oracle"
	ComponentCamera    = "camera"
	ComponentActuators = "actuators"
	ComponentHistory   = "history"
	ComponentTelemetry = "telemetry"
)

// ErrCycleInProgress is returned when a trigger arrives while a cycle holds the lock.
var ErrCycleInProgress = errors.New("decision cycle already in progress")

// SensorReadError reports a metric that produced too few valid retained samples.
type SensorReadError struct {
	Metric   Metric
	Valid    int
	Required int
	Cause    error
}

func (e *SensorReadError) Error() string {
	msg := fmt.Sprintf("sensor %s: %d valid retained samples, need %d", e.Metric, e.Valid, e.Required)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SensorReadError) Unwrap() error { return e.Cause }

// OracleError covers every way the decision oracle can fail: transport,
// timeout, malformed output or schema violation.
type OracleError struct {
	Cause error
}

func (e *OracleError) Error() string {
	if e.Cause == nil {
		return "oracle: unknown failure"
	}
	return "oracle: " + e.Cause.Error()
}

func (e *OracleError) Unwrap() error { return e.Cause }

type ActuatorError struct {
	Device Device
	Cause  error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator %s: %v", e.Device, e.Cause)
}

func (e *ActuatorError) Unwrap() error { return e.Cause }

// PersistenceError is a failed history write or telemetry publish. It never
// alters the actions already taken in the cycle.
type PersistenceError struct {
	Sink  string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Sink, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
