package assert

import (
	"fmt"
	"reflect"
	"runtime"
)

// NotNil panics when v is nil, including typed nils behind an interface.
func NotNil(v interface{}) {
	if v == nil {
		panic("assert: unexpected nil value")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("assert: unexpected nil %T", v))
		}
	}
}

// NotCircular panics if the calling function already appears further up the stack,
// which is how a singleton constructor re-entering itself through sync.Once shows up.
func NotCircular() {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(2, pcs)
	if n == 0 {
		return
	}
	frames := runtime.CallersFrames(pcs[:n])
	first, more := frames.Next()
	for more {
		var f runtime.Frame
		f, more = frames.Next()
		if f.Function == first.Function {
			panic("assert: circular initialization in " + first.Function)
		}
	}
}
