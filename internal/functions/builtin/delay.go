package builtin

import (
	"time"

	"github.com/roach88/blockflow/internal/functions"
)

// delay passes its input through after "delay" milliseconds.
type delay struct {
	functions.Base
	timer *time.Timer
}

func (f *delay) Run() any {
	f.stop()
	in := f.Host.GetValue("input")
	ms, _ := ToNumber(f.Host.GetValue("delay"))
	if ms < 0 {
		ms = 0
	}
	a := functions.NewAsync(func() { f.stop() })
	f.timer = time.AfterFunc(time.Duration(ms*float64(time.Millisecond)), func() {
		a.Resolve(in)
	})
	return a
}

func (f *delay) Cancel(string) bool {
	return f.stop()
}

func (f *delay) Destroy() {
	f.stop()
}

func (f *delay) stop() bool {
	if f.timer == nil {
		return false
	}
	stopped := f.timer.Stop()
	f.timer = nil
	return stopped
}

func newDelay(h functions.Host) functions.Function {
	return &delay{Base: functions.Base{Host: h}}
}
