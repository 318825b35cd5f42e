// Package solver defines the solver-agnostic constraint model and the narrow
// engine contract the orchestrator speaks. Any MILP/CP engine that satisfies
// the contract can be plugged in; the default engine is a heuristic that
// honours the same semantics.
package solver

// VarID identifies one boolean decision variable.
type VarID int

// RelationOp is the comparison operator of a linear relation.
type RelationOp string

const (
	OpEQ RelationOp = "=="
	OpLE RelationOp = "<="
	OpGE RelationOp = ">="
)

// Term is one integer-coefficient addend of a linear relation.
type Term struct {
	Var   VarID
	Coeff int
}

// LinearRelation is `sum(coeff_i * var_i) OP bound` over boolean variables.
type LinearRelation struct {
	Terms []Term
	Op    RelationOp
	Bound int
	Label string
}

// WeightedVar contributes `weight * var` to the minimized objective.
type WeightedVar struct {
	Var    VarID
	Weight int
}

// VarMeta ties a decision variable back to its course/slot pair. Auxiliary
// variables (gap indicators, violation counters) have Aux set.
type VarMeta struct {
	CourseID int
	SlotID   int
	Aux      bool
	Label    string
}

// ConstraintModel is the complete compiled problem: boolean variables,
// hard linear relations, and a weighted objective to minimize.
type ConstraintModel struct {
	Vars      []VarID
	Meta      map[VarID]VarMeta
	Relations []LinearRelation
	Objective []WeightedVar
}

// NewConstraintModel returns an empty model ready for variable registration.
func NewConstraintModel() *ConstraintModel {
	return &ConstraintModel{Meta: make(map[VarID]VarMeta)}
}

// AddVar registers a variable with its metadata and returns its ID.
func (m *ConstraintModel) AddVar(meta VarMeta) VarID {
	id := VarID(len(m.Vars))
	m.Vars = append(m.Vars, id)
	m.Meta[id] = meta
	return id
}

// AddRelation appends a hard constraint row.
func (m *ConstraintModel) AddRelation(rel LinearRelation) {
	m.Relations = append(m.Relations, rel)
}

// AddObjectiveTerm appends a weighted objective contribution.
func (m *ConstraintModel) AddObjectiveTerm(v VarID, weight int) {
	m.Objective = append(m.Objective, WeightedVar{Var: v, Weight: weight})
}

// FixZero emits `var == 0`.
func (m *ConstraintModel) FixZero(v VarID, label string) {
	m.AddRelation(LinearRelation{Terms: []Term{{Var: v, Coeff: 1}}, Op: OpEQ, Bound: 0, Label: label})
}

// FixOne emits `var == 1`.
func (m *ConstraintModel) FixOne(v VarID, label string) {
	m.AddRelation(LinearRelation{Terms: []Term{{Var: v, Coeff: 1}}, Op: OpEQ, Bound: 1, Label: label})
}

// Evaluate checks an assignment against every relation and returns the labels
// of violated rows. Used by tests and by the analyzer's defense-in-depth pass.
func (m *ConstraintModel) Evaluate(assignment map[VarID]int) []string {
	var violated []string
	for _, rel := range m.Relations {
		sum := 0
		for _, term := range rel.Terms {
			sum += term.Coeff * assignment[term.Var]
		}
		ok := false
		switch rel.Op {
		case OpEQ:
			ok = sum == rel.Bound
		case OpLE:
			ok = sum <= rel.Bound
		case OpGE:
			ok = sum >= rel.Bound
		}
		if !ok {
			violated = append(violated, rel.Label)
		}
	}
	return violated
}

// ObjectiveValue computes the minimized objective for an assignment.
func (m *ConstraintModel) ObjectiveValue(assignment map[VarID]int) int {
	total := 0
	for _, term := range m.Objective {
		total += term.Weight * assignment[term.Var]
	}
	return total
}
