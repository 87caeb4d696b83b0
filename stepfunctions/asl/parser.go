package asl

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMalformedDefinition is returned when a definition cannot be decoded or
// has no States object.
var ErrMalformedDefinition = errors.New("malformed definition")

// Parse decodes a definition payload. States keep their declaration order.
func Parse(payload []byte) (Definition, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return Definition{}, fmt.Errorf("%w: empty payload", ErrMalformedDefinition)
	}
	v, err := decodeOrdered(payload)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	return parseScope(v)
}

// ParseString is Parse for definitions held as strings, which is how the
// Step Functions API returns them.
func ParseString(definition string) (Definition, error) {
	return Parse([]byte(definition))
}

// FromMap decodes an already-decoded definition tree. Go maps do not keep
// insertion order, so states are ordered by name.
func FromMap(tree map[string]any) (Definition, error) {
	if tree == nil {
		return Definition{}, fmt.Errorf("%w: nil definition", ErrMalformedDefinition)
	}
	return parseScope(fromPlain(tree))
}

func parseScope(v any) (Definition, error) {
	root, ok := v.(object)
	if !ok {
		return Definition{}, fmt.Errorf("%w: definition is not an object", ErrMalformedDefinition)
	}
	states, ok := root.obj("States")
	if !ok {
		return Definition{}, fmt.Errorf("%w: missing States object", ErrMalformedDefinition)
	}

	def := Definition{
		StartAt: root.str("StartAt"),
		Comment: root.str("Comment"),
		States:  make([]State, 0, len(states)),
	}
	for _, m := range states {
		if m.key == "" {
			continue
		}
		def.States = append(def.States, parseState(m.key, m.value))
	}
	return def, nil
}

func parseState(name string, v any) State {
	body, _ := v.(object)
	st := State{
		Name:    name,
		Next:    body.str("Next"),
		End:     body.boolean("End"),
		Comment: body.str("Comment"),
	}

	declared := body.str("Type")
	switch StateType(declared) {
	case TypeTask:
		st.Spec = Task{
			Resource:   body.str("Resource"),
			Parameters: plainObject(body, "Parameters"),
		}
	case TypeChoice:
		st.Spec = parseChoice(body)
	case TypeParallel:
		var p Parallel
		for _, branch := range body.list("Branches") {
			p.Branches = append(p.Branches, parseNested(branch))
		}
		st.Spec = p
	case TypeMap:
		iterator, ok := body.get("Iterator")
		if !ok {
			iterator, ok = body.get("ItemProcessor")
		}
		if !ok {
			st.Spec = Map{Iterator: Scope{Err: fmt.Errorf("%w: map state has no iterator", ErrMalformedDefinition)}}
			break
		}
		st.Spec = Map{Iterator: parseNested(iterator)}
	case TypePass:
		st.Spec = Pass{}
	case TypeWait:
		st.Spec = Wait{}
	case TypeSucceed:
		st.Spec = Succeed{}
	case TypeFail:
		st.Spec = Fail{Error: body.str("Error"), Cause: body.str("Cause")}
	default:
		st.Spec = Unknown{Declared: declared}
	}
	return st
}

func parseChoice(body object) Choice {
	c := Choice{Default: body.str("Default")}
	for _, item := range body.list("Choices") {
		rule, ok := item.(object)
		if !ok {
			continue
		}
		condition := make(map[string]any, len(rule))
		for _, m := range rule {
			if m.key == "Next" {
				continue
			}
			condition[m.key] = toPlain(m.value)
		}
		c.Rules = append(c.Rules, ChoiceRule{Next: rule.str("Next"), Condition: condition})
	}
	return c
}

func parseNested(v any) Scope {
	def, err := parseScope(v)
	if err != nil {
		return Scope{Err: err}
	}
	return Scope{Definition: def}
}

func plainObject(body object, key string) map[string]any {
	child, ok := body.obj(key)
	if !ok {
		return nil
	}
	m, _ := toPlain(child).(map[string]any)
	return m
}
