package modules

import (
	"math"

	"github.com/wippyai/embshell"
	"github.com/wippyai/embshell/errors"
	"github.com/wippyai/embshell/native"
	"github.com/wippyai/embshell/overlay"
)

// Send states exported by the example module.
const (
	StateUndefined   = 0
	StateBeforeSend  = 1
	StateAfterSend   = 2
	StateFreeRunning = 4
)

// smallIntMax bounds the operand of double so the result stays exact in
// every backend's number type.
const smallIntMax = 1<<52 - 1

type exampleHost struct{}

// Double returns 2*n.
func (exampleHost) Double(n int64) (int64, error) {
	if n > smallIntMax || n < -smallIntMax {
		return 0, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
			Path("example", "double").
			Value(n).
			Detail("double() argument must be a small int").
			Build()
	}
	return 2 * n, nil
}

var polarLayout = overlay.Sequential(
	overlay.Member{Name: "radius", Kind: overlay.Float64},
	overlay.Member{Name: "theta", Kind: overlay.Float64},
)

// Example returns the example module: double, the send-state constants
// and the PolarPoint class.
func Example(space embshell.Space) (*native.Module, error) {
	pp := native.NewClass("PolarPoint", space, polarLayout)
	pp.Doc = "a point in polar coordinates"
	pp.Params = []string{"radius", "theta"}
	if err := pp.Method("set_radius", setRadius); err != nil {
		return nil, err
	}
	if err := pp.Method("to_cartesian", toCartesian); err != nil {
		return nil, err
	}

	m := native.NewModule("example").
		Host(exampleHost{}).
		Const("Undefined", StateUndefined).
		Const("BeforeSend", StateBeforeSend).
		Const("AfterSend", StateAfterSend).
		Const("FreeRunning", StateFreeRunning).
		Class(pp)
	m.Doc = "example host module"
	return m, m.Err()
}

func setRadius(self *native.Instance, r float64) error {
	return self.Set("radius", r)
}

func toCartesian(self *native.Instance) ([]any, error) {
	r, err := self.Get("radius")
	if err != nil {
		return nil, err
	}
	theta, err := self.Get("theta")
	if err != nil {
		return nil, err
	}
	rf, tf := r.(float64), theta.(float64)
	return []any{rf * math.Cos(tf), rf * math.Sin(tf)}, nil
}
