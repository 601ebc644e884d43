// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workflow runs the iterative refinement pipeline as an explicit finite
// state machine. All moves go through Next, which is the only place guards live,
// and the transition table is checked exhaustively by CheckTransitions.
package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// State is a node of the refinement machine.
type State string

const (
	StateAnalyze    State = "ANALYZE"
	StateRetrieve   State = "RETRIEVE"
	StateRefine     State = "REFINE"
	StateVerify     State = "VERIFY"
	StateSynthesize State = "SYNTHESIZE"
	StateSuccess    State = "SUCCESS"
	StateFailure    State = "FAILURE"
)

// States lists every state in pipeline order.
var States = []State{StateAnalyze, StateRetrieve, StateRefine, StateVerify, StateSynthesize, StateSuccess, StateFailure}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == StateSuccess || s == StateFailure }

// Lower returns the lowercase node name used in workflow paths.
func (s State) Lower() string { return strings.ToLower(string(s)) }

// Transitions is the enumerated transition table.
var Transitions = map[State][]State{
	StateAnalyze:    {StateRetrieve, StateFailure},
	StateRetrieve:   {StateRefine, StateFailure},
	StateRefine:     {StateRetrieve, StateVerify, StateFailure},
	StateVerify:     {StateRefine, StateSynthesize, StateFailure},
	StateSynthesize: {StateSuccess, StateFailure},
	StateSuccess:    nil,
	StateFailure:    nil,
}

// Allowed reports whether from -> to is in the table.
func Allowed(from, to State) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Facts are the observations a node hands to Next.
type Facts struct {
	// Failed is set when the node hit an unhandled error.
	Failed bool
	// Sufficient is set when the gathered evidence answers the query.
	Sufficient bool
	// Budget is max_iterations minus iterations performed.
	Budget int
	// VerifyReturned is set once VERIFY has sent the run back to REFINE.
	VerifyReturned bool
}

// Next is the guarded transition function.
func Next(from State, f Facts) State {
	if from.Terminal() {
		return from
	}
	if f.Failed {
		return StateFailure
	}
	switch from {
	case StateAnalyze:
		return StateRetrieve
	case StateRetrieve:
		return StateRefine
	case StateRefine:
		if !f.Sufficient && f.Budget > 0 {
			return StateRetrieve
		}
		return StateVerify
	case StateVerify:
		if !f.Sufficient && f.Budget > 0 && !f.VerifyReturned {
			return StateRefine
		}
		return StateSynthesize
	case StateSynthesize:
		return StateSuccess
	}
	return StateFailure
}

// Control is the part of a run's state that guards depend on.
type Control struct {
	Node           State
	Budget         int
	VerifyReturned bool
}

// Advance applies the side effects of moving c to next: entering RETRIEVE
// consumes one unit of budget, leaving VERIFY for REFINE uses up the single return.
func Advance(c Control, next State) Control {
	out := c
	out.Node = next
	if next == StateRetrieve {
		out.Budget--
	}
	if c.Node == StateVerify && next == StateRefine {
		out.VerifyReturned = true
	}
	return out
}

// CheckTransitions explores every control state reachable from ANALYZE for each
// max_iterations in [1, ceiling] and every combination of facts. It returns an
// error if Next leaves the table, if budget goes negative, if RETRIEVE is entered
// with no budget, if the control graph has a cycle, or if some state cannot reach
// a terminal.
func CheckTransitions(ceiling int) error {
	for max := 1; max <= ceiling; max++ {
		if err := checkFrom(Control{Node: StateAnalyze, Budget: max}); err != nil {
			return fmt.Errorf("max_iterations=%d: %w", max, err)
		}
	}
	return nil
}

func checkFrom(start Control) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	color := make(map[Control]int)
	reachesTerminal := make(map[Control]bool)
	terminals := make(map[State]bool)

	var visit func(c Control) error
	visit = func(c Control) error {
		switch color[c] {
		case inProgress:
			return fmt.Errorf("cycle through %s (budget %d)", c.Node, c.Budget)
		case done:
			return nil
		}
		color[c] = inProgress
		if c.Node.Terminal() {
			terminals[c.Node] = true
			reachesTerminal[c] = true
			color[c] = done
			return nil
		}
		for _, f := range allFacts(c) {
			next := Next(c.Node, f)
			if !Allowed(c.Node, next) {
				return fmt.Errorf("%s -> %s is not in the transition table", c.Node, next)
			}
			if next == StateRetrieve && c.Budget <= 0 {
				return fmt.Errorf("%s re-enters RETRIEVE with exhausted budget", c.Node)
			}
			nc := Advance(c, next)
			if nc.Budget < 0 {
				return fmt.Errorf("budget below zero after %s -> %s", c.Node, next)
			}
			if err := visit(nc); err != nil {
				return err
			}
			if reachesTerminal[nc] {
				reachesTerminal[c] = true
			}
		}
		if !reachesTerminal[c] {
			return fmt.Errorf("%s (budget %d) cannot reach a terminal state", c.Node, c.Budget)
		}
		color[c] = done
		return nil
	}
	if err := visit(start); err != nil {
		return err
	}
	for _, t := range []State{StateSuccess, StateFailure} {
		if !terminals[t] {
			return fmt.Errorf("terminal %s is unreachable", t)
		}
	}
	return nil
}

// allFacts enumerates every observation a node could report in control state c.
func allFacts(c Control) []Facts {
	var out []Facts
	for _, failed := range []bool{false, true} {
		for _, sufficient := range []bool{false, true} {
			out = append(out, Facts{Failed: failed, Sufficient: sufficient, Budget: c.Budget, VerifyReturned: c.VerifyReturned})
		}
	}
	return out
}

// ReachableStates returns the set of nodes reachable from ANALYZE with the given budget, sorted.
func ReachableStates(maxIterations int) []State {
	seen := make(map[Control]bool)
	nodes := make(map[State]bool)
	var walk func(c Control)
	walk = func(c Control) {
		if seen[c] {
			return
		}
		seen[c] = true
		nodes[c.Node] = true
		if c.Node.Terminal() {
			return
		}
		for _, f := range allFacts(c) {
			walk(Advance(c, Next(c.Node, f)))
		}
	}
	walk(Control{Node: StateAnalyze, Budget: maxIterations})
	out := make([]State, 0, len(nodes))
	for s := range nodes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
