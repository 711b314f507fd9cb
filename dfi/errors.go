package dfi

import "fmt"

// ConfigurationError indicates an invalid setting, missing file or unknown attribute.
type ConfigurationError struct {
	Msg string
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

func configErrorf(format string, args ...interface{}) error {
	return ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// ShapeMismatchError indicates that an image or vector does not match the size expected by the network.
type ShapeMismatchError struct {
	What   string
	Got    []int
	Expect []int
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("%s: shape %v does not match expected %v", e.What, e.Got, e.Expect)
}

// InsufficientDataError indicates that there are too few examples to continue.
type InsufficientDataError struct {
	What       string
	Have, Need int
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %s - have %d, need %d", e.What, e.Have, e.Need)
}

// NumericDivergenceError is returned when the loss becomes NaN or infinite.
type NumericDivergenceError struct {
	Step int
	Loss float64
}

func (e NumericDivergenceError) Error() string {
	return fmt.Sprintf("optimization diverged at step %d: loss=%g", e.Step, e.Loss)
}
