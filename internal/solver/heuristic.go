package solver

import (
	"context"
	"sort"
)

// HeuristicEngine is the default conforming engine: deterministic greedy
// seeding over the demand rows, propagation across equality pairs, and a
// bounded repair/improvement loop. It trades optimality for predictable
// runtime and always respects the context deadline.
type HeuristicEngine struct {
	MaxRepairPasses  int
	MaxImprovePasses int
}

// NewHeuristicEngine returns an engine with default pass budgets.
func NewHeuristicEngine() *HeuristicEngine {
	return &HeuristicEngine{MaxRepairPasses: 24, MaxImprovePasses: 12}
}

type searchState struct {
	model  *ConstraintModel
	values map[VarID]int

	// fixed marks variables pinned by singleton equality rows; repair and
	// improvement must never flip them.
	fixed map[VarID]bool

	// rowsByVar indexes relations touching each variable.
	rowsByVar map[VarID][]int

	// weight is the objective weight per variable, 0 when absent.
	weight map[VarID]int
}

func newSearchState(model *ConstraintModel) *searchState {
	st := &searchState{
		model:     model,
		values:    make(map[VarID]int, len(model.Vars)),
		fixed:     make(map[VarID]bool),
		rowsByVar: make(map[VarID][]int),
		weight:    make(map[VarID]int),
	}
	for i, rel := range model.Relations {
		for _, term := range rel.Terms {
			st.rowsByVar[term.Var] = append(st.rowsByVar[term.Var], i)
		}
	}
	for _, term := range model.Objective {
		st.weight[term.Var] += term.Weight
	}
	return st
}

// propagateFixed applies singleton equality rows (var == 0 / var == 1).
func (st *searchState) propagateFixed() {
	for _, rel := range st.model.Relations {
		if rel.Op != OpEQ || len(rel.Terms) != 1 || rel.Terms[0].Coeff != 1 {
			continue
		}
		if rel.Bound == 0 || rel.Bound == 1 {
			st.values[rel.Terms[0].Var] = rel.Bound
			st.fixed[rel.Terms[0].Var] = true
		}
	}
}

// demandRow is an EQ row `sum(vars) == bound` with unit coefficients, the
// shape the builder emits for per-course weekly hours.
type demandRow struct {
	index int
	vars  []VarID
	bound int
}

func (st *searchState) demandRows() []demandRow {
	var rows []demandRow
	for i, rel := range st.model.Relations {
		if rel.Op != OpEQ || len(rel.Terms) < 2 || rel.Bound < 1 {
			continue
		}
		unit := true
		for _, term := range rel.Terms {
			if term.Coeff != 1 {
				unit = false
				break
			}
		}
		if !unit {
			continue
		}
		vars := make([]VarID, 0, len(rel.Terms))
		for _, term := range rel.Terms {
			vars = append(vars, term.Var)
		}
		rows = append(rows, demandRow{index: i, vars: vars, bound: rel.Bound})
	}
	// Largest demand first so tight courses claim slots early.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].bound != rows[j].bound {
			return rows[i].bound > rows[j].bound
		}
		return rows[i].index < rows[j].index
	})
	return rows
}

// canRaise reports whether setting v to 1 keeps every LE row containing v
// satisfiable against current values. Rows holding an unset violation
// variable (negative coefficient) still count as satisfiable: the violation
// variable can absorb the overflow during repair.
func (st *searchState) canRaise(v VarID) bool {
	if st.fixed[v] {
		return st.values[v] == 1
	}
	for _, idx := range st.rowsByVar[v] {
		rel := st.model.Relations[idx]
		if rel.Op != OpLE {
			continue
		}
		sum := 0
		relaxable := false
		for _, term := range rel.Terms {
			if term.Var == v {
				sum += term.Coeff
				continue
			}
			if term.Coeff < 0 && st.values[term.Var] == 0 && !st.fixed[term.Var] {
				relaxable = true
			}
			sum += term.Coeff * st.values[term.Var]
		}
		if sum > rel.Bound && !relaxable {
			return false
		}
	}
	return true
}

// raise sets v to 1 and propagates pairwise equality rows (a - b == 0),
// the shape emitted for legacy unmerged parallel courses.
func (st *searchState) raise(v VarID) bool {
	if st.fixed[v] {
		return st.values[v] == 1
	}
	st.values[v] = 1
	for _, idx := range st.rowsByVar[v] {
		rel := st.model.Relations[idx]
		if rel.Op != OpEQ || rel.Bound != 0 || len(rel.Terms) != 2 {
			continue
		}
		opposed := (rel.Terms[0].Coeff == 1 && rel.Terms[1].Coeff == -1) ||
			(rel.Terms[0].Coeff == -1 && rel.Terms[1].Coeff == 1)
		if !opposed {
			continue
		}
		sibling := rel.Terms[0].Var
		if sibling == v {
			sibling = rel.Terms[1].Var
		}
		if st.values[sibling] == 0 && st.canRaise(sibling) {
			st.values[sibling] = 1
		}
	}
	return true
}

// Solve implements Engine.
func (e *HeuristicEngine) Solve(ctx context.Context, model *ConstraintModel) Result {
	st := newSearchState(model)
	st.propagateFixed()

	deadlineHit := false
	for _, row := range st.demandRows() {
		if ctx.Err() != nil {
			deadlineHit = true
			break
		}
		need := row.bound
		candidates := make([]VarID, 0, len(row.vars))
		for _, v := range row.vars {
			if st.values[v] == 1 {
				need--
				continue
			}
			if !st.fixed[v] {
				candidates = append(candidates, v)
			}
		}
		// Cheapest objective contribution first; variable order breaks ties
		// so repeated solves are reproducible.
		sort.SliceStable(candidates, func(i, j int) bool {
			wi, wj := st.weight[candidates[i]], st.weight[candidates[j]]
			if wi != wj {
				return wi < wj
			}
			return candidates[i] < candidates[j]
		})
		for _, v := range candidates {
			if need <= 0 {
				break
			}
			if st.canRaise(v) && st.raise(v) {
				need--
			}
		}
	}

	if !deadlineHit {
		deadlineHit = !e.repair(ctx, st)
	}
	if !deadlineHit {
		e.improve(ctx, st)
	}

	violated := model.Evaluate(st.values)
	objective := model.ObjectiveValue(st.values)

	if len(violated) > 0 {
		if deadlineHit {
			return Result{Status: StatusTimedOut}
		}
		return Result{Status: StatusInfeasible}
	}
	// Optimality is only certified when the objective meets its lower bound,
	// the sum of all negative weights. Anything above that may still leave
	// an unclaimed bonus on the table.
	lower := 0
	for _, term := range model.Objective {
		if term.Weight < 0 {
			lower += term.Weight
		}
	}
	status := StatusFeasible
	if objective == lower {
		status = StatusOptimal
	}
	return Result{Status: status, Assignment: st.values, Objective: objective}
}

// repair walks violated rows and attempts bounded local fixes: raising
// violation variables on overflowing LE rows and reseating demand surplus or
// shortfall. Returns false when the deadline expired mid-pass.
func (e *HeuristicEngine) repair(ctx context.Context, st *searchState) bool {
	for pass := 0; pass < e.MaxRepairPasses; pass++ {
		if ctx.Err() != nil {
			return false
		}
		changed := false
		for _, rel := range st.model.Relations {
			sum := 0
			for _, term := range rel.Terms {
				sum += term.Coeff * st.values[term.Var]
			}
			switch rel.Op {
			case OpLE:
				if sum <= rel.Bound {
					continue
				}
				for _, term := range rel.Terms {
					if term.Coeff < 0 && st.values[term.Var] == 0 && !st.fixed[term.Var] {
						st.values[term.Var] = 1
						sum += term.Coeff
						changed = true
						if sum <= rel.Bound {
							break
						}
					}
				}
			case OpEQ:
				if sum == rel.Bound || len(rel.Terms) < 2 {
					continue
				}
				if sum > rel.Bound {
					// Drop the costliest surplus assignment.
					worst, found := VarID(0), false
					for _, term := range rel.Terms {
						if term.Coeff != 1 || st.values[term.Var] != 1 || st.fixed[term.Var] {
							continue
						}
						if !found || st.weight[term.Var] > st.weight[worst] {
							worst, found = term.Var, true
						}
					}
					if found {
						st.values[worst] = 0
						changed = true
					}
				} else {
					for _, term := range rel.Terms {
						if term.Coeff == 1 && st.values[term.Var] == 0 && st.canRaise(term.Var) {
							st.values[term.Var] = 1
							changed = true
							sum++
							if sum == rel.Bound {
								break
							}
						}
					}
				}
			}
		}
		if !changed {
			return true
		}
	}
	return true
}

// improve shifts single assignments to cheaper siblings inside their demand
// row while every hard row stays satisfied. Pure objective descent.
func (e *HeuristicEngine) improve(ctx context.Context, st *searchState) {
	for pass := 0; pass < e.MaxImprovePasses; pass++ {
		if ctx.Err() != nil {
			return
		}
		improved := false
		for _, row := range st.demandRows() {
			for _, from := range row.vars {
				if st.values[from] != 1 || st.fixed[from] || st.weight[from] <= 0 {
					continue
				}
				for _, to := range row.vars {
					if st.values[to] != 0 || st.fixed[to] || st.weight[to] >= st.weight[from] {
						continue
					}
					st.values[from] = 0
					st.values[to] = 1
					if len(st.model.Evaluate(st.values)) == 0 {
						improved = true
						break
					}
					st.values[to] = 0
					st.values[from] = 1
				}
				if improved {
					break
				}
			}
			if improved {
				break
			}
		}
		if !improved {
			return
		}
	}
}
