// Package reconcile cross-checks the two particulate sensors of a node and
// attributes a likely fault when they disagree.
package reconcile

import (
	"math"
	"strconv"
)

// Thresholds.
const (
	// MinPM is the mean below which agreement is not tested, in µg/m³. It
	// also floors the baseline in the deviation ratio.
	MinPM = 1.0
	// RPDOk is the largest relative difference still counted as agreement.
	RPDOk = 0.25
	// SuspectRatio is how much larger one deviation must be than the other
	// before that sensor alone is suspected.
	SuspectRatio = 1.5
)

// NoData is written for a value that was not computed this tick.
const NoData = "NODATA"

// Flag is the pair agreement outcome.
type Flag int

const (
	FlagOk Flag = iota
	FlagLowPMOk
	FlagMismatch
	FlagPMS1Bad
	FlagPMS2Bad
	FlagBothBad
	FlagIncomplete
	FlagError
)

var flagNames = [...]string{
	FlagOk:         "OK",
	FlagLowPMOk:    "LOW_PM_OK",
	FlagMismatch:   "MISMATCH",
	FlagPMS1Bad:    "PMS1_BAD",
	FlagPMS2Bad:    "PMS2_BAD",
	FlagBothBad:    "BOTH_BAD",
	FlagIncomplete: "INCOMPLETE",
	FlagError:      "ERROR",
}

func (f Flag) String() string {
	if f >= 0 && int(f) < len(flagNames) {
		return flagNames[f]
	}
	return NoData
}

// Suspect names the sensor most likely reporting wrong data. SuspectUnset
// only exists between the decision steps and is never returned.
type Suspect int

const (
	SuspectUnset Suspect = iota
	SuspectOk
	SuspectPMS1
	SuspectPMS2
	SuspectBoth
	SuspectUnknown
)

func (s Suspect) String() string {
	switch s {
	case SuspectOk:
		return "OK"
	case SuspectPMS1:
		return "PMS1"
	case SuspectPMS2:
		return "PMS2"
	case SuspectBoth:
		return "BOTH"
	case SuspectUnknown:
		return "UNKNOWN"
	default:
		return NoData
	}
}

// Reading is one channel's value for a tick. Value is nil when absent.
type Reading struct {
	Value  *float64
	Status Status
}

// Result is the reconciliation of one tick. Mean and RPD are nil when not
// computed.
type Result struct {
	Mean    *float64
	RPD     *float64
	Flag    Flag
	Suspect Suspect
}

type input struct {
	r1, r2 Reading
	b1, b2 *float64
}

// guard is one step of the decision table. It returns ok=false to pass the
// input on to the next step.
type guard struct {
	name  string
	apply func(in input) (Result, bool)
}

var guards = []guard{
	{"both bad", func(in input) (Result, bool) {
		if !in.r1.Status.IsOk() && !in.r2.Status.IsOk() {
			return Result{Flag: FlagBothBad, Suspect: SuspectBoth}, true
		}
		return Result{}, false
	}},
	{"pms1 bad", func(in input) (Result, bool) {
		if !in.r1.Status.IsOk() {
			return Result{Flag: FlagPMS1Bad, Suspect: SuspectPMS1}, true
		}
		return Result{}, false
	}},
	{"pms2 bad", func(in input) (Result, bool) {
		if !in.r2.Status.IsOk() {
			return Result{Flag: FlagPMS2Bad, Suspect: SuspectPMS2}, true
		}
		return Result{}, false
	}},
	{"incomplete", func(in input) (Result, bool) {
		if in.r1.Value == nil || in.r2.Value == nil {
			return Result{Flag: FlagIncomplete, Suspect: SuspectUnknown}, true
		}
		return Result{}, false
	}},
	{"compare", func(in input) (Result, bool) {
		return compare(*in.r1.Value, *in.r2.Value, in.b1, in.b2), true
	}},
}

// Reconcile applies the decision table to two readings and their rolling
// baseline medians (nil when a channel has no history). It never fails:
// arithmetic faults become FlagError.
func Reconcile(r1, r2 Reading, b1, b2 *float64) Result {
	in := input{r1: r1, r2: r2, b1: b1, b2: b2}
	var res Result
	for _, g := range guards {
		if r, ok := g.apply(in); ok {
			res = r
			break
		}
	}
	return finish(res)
}

// finish resolves an unset suspect once the flag is known.
func finish(res Result) Result {
	if res.Suspect == SuspectUnset {
		if res.Flag == FlagOk || res.Flag == FlagLowPMOk {
			res.Suspect = SuspectOk
		} else {
			res.Suspect = SuspectUnknown
		}
	}
	return res
}

func compare(v1, v2 float64, b1, b2 *float64) Result {
	if !finite(v1) || !finite(v2) {
		return errorResult()
	}
	mean := (v1 + v2) / 2
	if !finite(mean) {
		return errorResult()
	}
	if mean < MinPM {
		return Result{Mean: &mean, Flag: FlagLowPMOk}
	}

	res := Result{Mean: &mean}
	if mean > 0 {
		rpd := math.Abs(v1-v2) / mean
		if !finite(rpd) {
			return errorResult()
		}
		res.RPD = &rpd
		if rpd <= RPDOk {
			res.Flag = FlagOk
			return res
		}
	}

	d1, d2 := deviation(v1, b1), deviation(v2, b2)
	if !finite(d1) || !finite(d2) {
		return errorResult()
	}
	res.Flag = FlagMismatch
	switch {
	case d1 > SuspectRatio*d2:
		res.Suspect = SuspectPMS1
	case d2 > SuspectRatio*d1:
		res.Suspect = SuspectPMS2
	default:
		res.Suspect = SuspectBoth
	}
	return res
}

// deviation is |v-b| / max(b, MinPM), or zero without a baseline.
func deviation(v float64, b *float64) float64 {
	if b == nil {
		return 0
	}
	return math.Abs(v-*b) / math.Max(*b, MinPM)
}

func errorResult() Result {
	return Result{Flag: FlagError, Suspect: SuspectUnknown}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FormatFloat renders an optional value for a column, NODATA when nil.
func FormatFloat(v *float64) string {
	if v == nil {
		return NoData
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
