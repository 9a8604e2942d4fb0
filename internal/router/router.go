package router

import (
	"fmt"
	"sort"
	"strings"

	"pixelgate/internal/config"
)

type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
	MatchFallback
)

type ActionKind int

const (
	ActionNotFound ActionKind = iota
	ActionStatic
	ActionProxy
)

// Action is what the gateway should do with a matched request. For static
// actions, Fallback optionally names the route to hand off to when the file
// does not exist (the try_files semantic).
type Action struct {
	Kind     ActionKind
	Root     string
	Upstream string
	Fallback string
}

type Rule struct {
	Kind    MatchKind
	Pattern string // path for exact/prefix rules, "@name" for fallback rules
	Action  Action
}

// Table evaluates location rules. Exact rules outrank prefix rules, longer
// prefixes outrank shorter ones, and the fallback rule is never matched by
// path, regardless of declaration order.
type Table struct {
	exact    map[string]*Rule
	prefix   []*Rule // sorted by pattern length, longest first
	fallback map[string]*Rule
}

func New(routes []config.Route, staticRoot string) (*Table, error) {
	t := &Table{
		exact:    make(map[string]*Rule),
		fallback: make(map[string]*Rule),
	}
	for i, r := range routes {
		action, err := buildAction(r, staticRoot)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		switch r.Match {
		case "exact":
			if _, dup := t.exact[r.Path]; dup {
				return nil, fmt.Errorf("routes[%d]: duplicate exact path %q", i, r.Path)
			}
			t.exact[r.Path] = &Rule{Kind: MatchExact, Pattern: r.Path, Action: action}
		case "prefix":
			t.prefix = append(t.prefix, &Rule{Kind: MatchPrefix, Pattern: r.Path, Action: action})
		case "fallback":
			if _, dup := t.fallback[r.Name]; dup {
				return nil, fmt.Errorf("routes[%d]: duplicate fallback %q", i, r.Name)
			}
			if len(t.fallback) == 1 {
				return nil, fmt.Errorf("routes[%d]: only one fallback route is allowed", i)
			}
			t.fallback[r.Name] = &Rule{Kind: MatchFallback, Pattern: r.Name, Action: action}
		default:
			return nil, fmt.Errorf("routes[%d]: unknown match kind %q", i, r.Match)
		}
	}
	sort.SliceStable(t.prefix, func(i, j int) bool {
		return len(t.prefix[i].Pattern) > len(t.prefix[j].Pattern)
	})
	for name, r := range t.fallback {
		if r.Action.Fallback != "" {
			return nil, fmt.Errorf("fallback route %q cannot itself fall back", name)
		}
	}
	return t, nil
}

func buildAction(r config.Route, staticRoot string) (Action, error) {
	switch r.Action {
	case "static":
		root := r.Root
		if root == "" {
			root = staticRoot
		}
		if root == "" {
			return Action{}, fmt.Errorf("static route needs a root")
		}
		return Action{Kind: ActionStatic, Root: root, Fallback: r.Fallback}, nil
	case "proxy":
		if r.Upstream == "" {
			return Action{}, fmt.Errorf("proxy route needs an upstream")
		}
		return Action{Kind: ActionProxy, Upstream: r.Upstream, Fallback: r.Fallback}, nil
	default:
		return Action{}, fmt.Errorf("unknown action %q", r.Action)
	}
}

// Match returns the first rule whose pattern matches path, in priority
// order. A nil return means no rule matched.
func (t *Table) Match(path string) *Rule {
	if r, ok := t.exact[path]; ok {
		return r
	}
	for _, r := range t.prefix {
		if strings.HasPrefix(path, r.Pattern) {
			return r
		}
	}
	return nil
}

// Resolve looks up the named fallback rule referenced by a try_files action.
func (t *Table) Resolve(name string) *Rule {
	return t.fallback[name]
}
