package ptype

import "math"

// Adaptation is an optional wrapper on integer/fixed-point parameters
// applying a linear or logarithmic transform between the Real-space
// floating value and the raw stored integer. It applies
// only to the Real value space; Raw space always reads the underlying
// integer unchanged.
type Adaptation interface {
	// ToRaw converts a Real-space floating value to the raw integer to
	// store (before range checking/truncation by the owning type).
	ToRaw(value float64) int64
	// FromRaw converts a decoded raw integer back to its Real-space
	// floating representation.
	FromRaw(raw int64) float64
}

// LinearAdaptation implements y = (num/den)*x + offset.
type LinearAdaptation struct {
	Num, Den int64
	Offset   float64
}

func (a LinearAdaptation) slope() float64 { return float64(a.Num) / float64(a.Den) }

func (a LinearAdaptation) ToRaw(value float64) int64 {
	x := (value - a.Offset) / a.slope()
	return int64(math.Round(x))
}

func (a LinearAdaptation) FromRaw(raw int64) float64 {
	return a.slope()*float64(raw) + a.Offset
}

// LogarithmicAdaptation implements y = (num/den)*log_b(x) + offset, with
// a floor clamp applied on the reverse (raw-to-real-space) transform: b
// must satisfy b > 0, b != 1 (validated at load time by the XML binder).
type LogarithmicAdaptation struct {
	Num, Den   int64
	Base       float64
	Offset     float64
	FloorValue float64
	HasFloor   bool
}

func (a LogarithmicAdaptation) slope() float64 { return float64(a.Num) / float64(a.Den) }

func (a LogarithmicAdaptation) logBase(x float64) float64 {
	return math.Log(x) / math.Log(a.Base)
}

// ToRaw inverts y = slope*log_b(x) + offset: x = b^((y-offset)/slope).
func (a LogarithmicAdaptation) ToRaw(value float64) int64 {
	exponent := (value - a.Offset) / a.slope()
	x := math.Pow(a.Base, exponent)
	if a.HasFloor && x < a.FloorValue {
		x = a.FloorValue
	}
	return int64(math.Round(x))
}

func (a LogarithmicAdaptation) FromRaw(raw int64) float64 {
	x := float64(raw)
	if a.HasFloor && x < a.FloorValue {
		x = a.FloorValue
	}
	return a.slope()*a.logBase(x) + a.Offset
}
