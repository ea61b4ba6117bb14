package indicator

import "math"

// Series is an indicator column aligned 1:1 with the bars it was computed
// from. Undefined positions (warm-up) hold NaN.
type Series []float64

// At returns the value at i and whether it is defined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return math.NaN(), false
	}
	v := s[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, false
	}
	return v, true
}

// Defined reports whether position i holds a value.
func (s Series) Defined(i int) bool {
	_, ok := s.At(i)
	return ok
}

// Last returns the newest value.
func (s Series) Last() (float64, bool) {
	return s.At(len(s) - 1)
}

// FirstDefined returns the index of the first defined value, or -1.
func (s Series) FirstDefined() int {
	for i := range s {
		if s.Defined(i) {
			return i
		}
	}
	return -1
}

// Nullable converts the series to pointers with nil for undefined values,
// suitable for JSON encoding.
func (s Series) Nullable() []*float64 {
	out := make([]*float64, len(s))
	for i := range s {
		if v, ok := s.At(i); ok {
			out[i] = &v
		}
	}
	return out
}

func undefinedSeries(n int) Series {
	out := make(Series, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// fromTalib masks the lookback prefix of a talib output, which talib fills
// with zeros, and any non-finite values.
func fromTalib(raw []float64, lookback int) Series {
	out := make(Series, len(raw))
	for i, v := range raw {
		if i < lookback || math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

// clamp bounds the defined values of s to [lo, hi] in place. talib's running
// sums drift a few ulps past the bounds of oscillators.
func clamp(s Series, lo, hi float64) Series {
	for i, v := range s {
		if math.IsNaN(v) {
			continue
		}
		s[i] = math.Min(math.Max(v, lo), hi)
	}
	return s
}
