package solver

import "context"

// Status is the solve outcome reported by an engine.
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"
	StatusFeasible   Status = "FEASIBLE"
	StatusInfeasible Status = "INFEASIBLE"
	StatusTimedOut   Status = "TIMED_OUT"
)

// Result carries the outcome and, for Optimal/Feasible, a 0/1 assignment for
// every variable in the model.
type Result struct {
	Status     Status
	Assignment map[VarID]int
	Objective  int
}

// Engine is the only boundary to the solving backend. Solve must respect the
// context deadline: when the budget expires it returns the best incumbent
// found so far (Feasible) or TimedOut, never blocking past the deadline.
type Engine interface {
	Solve(ctx context.Context, model *ConstraintModel) Result
}
