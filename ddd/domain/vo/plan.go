package vo

import "strings"

// PlanTable maps a subscription plan name to its lifetime video ceiling.
// Names match case-insensitively; unknown plans have a ceiling of zero.
type PlanTable struct {
	ceilings map[string]int
}

func NewPlanTable(ceilings map[string]int) PlanTable {
	cp := make(map[string]int, len(ceilings))
	for k, v := range ceilings {
		cp[strings.ToLower(k)] = v
	}
	return PlanTable{ceilings: cp}
}

// DefaultPlanTable Silver/Gold/Diamond
func DefaultPlanTable() PlanTable {
	return NewPlanTable(map[string]int{"Silver": 2000, "Gold": 5000, "Diamond": 10000})
}

func (t PlanTable) Ceiling(plan string) int {
	return t.ceilings[strings.ToLower(strings.TrimSpace(plan))]
}
