// Package asl decodes Amazon States Language definitions into typed states.
//
// Decoding is total: optional fields that are absent or of the wrong JSON
// type fall back to their zero value. Only a definition without an object
// States collection is rejected.
package asl

// StateType is the value of a state's "Type" field.
type StateType string

const (
	TypeTask     StateType = "Task"
	TypeChoice   StateType = "Choice"
	TypeParallel StateType = "Parallel"
	TypeMap      StateType = "Map"
	TypePass     StateType = "Pass"
	TypeWait     StateType = "Wait"
	TypeSucceed  StateType = "Succeed"
	TypeFail     StateType = "Fail"
)

// Definition is one scope of a state machine: the top-level machine, a
// Parallel branch or a Map iterator.
type Definition struct {
	StartAt string
	Comment string
	// States in declaration order.
	States []State
}

// State returns the state with the given name.
func (d Definition) State(name string) (State, bool) {
	for _, s := range d.States {
		if s.Name == name {
			return s, true
		}
	}
	return State{}, false
}

// Empty reports whether the scope declares no states.
func (d Definition) Empty() bool { return len(d.States) == 0 }

type State struct {
	Name    string
	Next    string
	End     bool
	Comment string
	Spec    Spec
}

// Type returns the declared type, or the raw "Type" value for unknown kinds.
func (s State) Type() StateType {
	if s.Spec == nil {
		return ""
	}
	return s.Spec.Type()
}

// HasSuccessor reports whether the state names a Next target.
func (s State) HasSuccessor() bool { return s.Next != "" }

// Spec is the kind-specific part of a state. The set of implementations is
// closed: Task, Choice, Parallel, Map, Pass, Wait, Succeed, Fail and Unknown.
type Spec interface {
	Type() StateType
	spec()
}

type Task struct {
	Resource   string
	Parameters map[string]any
}

type Choice struct {
	Rules   []ChoiceRule
	Default string
}

// ChoiceRule is one entry of a Choice state's "Choices". The condition is
// kept opaque; only the target matters for graph construction.
type ChoiceRule struct {
	Next      string
	Condition map[string]any
}

type Parallel struct {
	Branches []Scope
}

type Map struct {
	Iterator Scope
}

type Pass struct{}

type Wait struct{}

type Succeed struct{}

type Fail struct {
	Error string
	Cause string
}

// Unknown is a state whose "Type" is missing or not recognised. It is
// traversed like a Pass state.
type Unknown struct {
	Declared string
}

// Scope is a nested definition. Err is set when the nested payload could not
// be decoded (for example a branch without States); such scopes are skipped.
type Scope struct {
	Definition Definition
	Err        error
}

// Valid reports whether the nested definition decoded.
func (s Scope) Valid() bool { return s.Err == nil }

func (Task) Type() StateType     { return TypeTask }
func (Choice) Type() StateType   { return TypeChoice }
func (Parallel) Type() StateType { return TypeParallel }
func (Map) Type() StateType      { return TypeMap }
func (Pass) Type() StateType     { return TypePass }
func (Wait) Type() StateType     { return TypeWait }
func (Succeed) Type() StateType  { return TypeSucceed }
func (Fail) Type() StateType     { return TypeFail }
func (u Unknown) Type() StateType {
	return StateType(u.Declared)
}

func (Task) spec()     {}
func (Choice) spec()   {}
func (Parallel) spec() {}
func (Map) spec()      {}
func (Pass) spec()     {}
func (Wait) spec()     {}
func (Succeed) spec()  {}
func (Fail) spec()     {}
func (Unknown) spec()  {}
