package compiler

import "github.com/chazu/govm/vm"

// ---------------------------------------------------------------------------
// Compile-time environment: frames of names mirroring the runtime shape
// ---------------------------------------------------------------------------

// env is a list of frames, outermost first. Extension copies, so an env
// captured by a nested function is never changed by later siblings.
type env [][]string

// globalFrames is the number of predeclared frames (builtins, constants).
const globalFrames = 2

func globalEnv() env {
	return env{vm.BuiltinNames(), vm.ConstantNames()}
}

func (e env) extend(names []string) env {
	out := make(env, len(e)+1)
	copy(out, e)
	out[len(e)] = names
	return out
}

// lookup resolves name to its lexical address, innermost frame first.
func (e env) lookup(name string) (vm.Pos, bool) {
	for f := len(e) - 1; f >= 0; f-- {
		for s, n := range e[f] {
			if n == name {
				return vm.Pos{Frame: f, Slot: s}, true
			}
		}
	}
	return vm.Pos{}, false
}
