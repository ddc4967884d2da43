package compaction

// OptimizeRule is one independent predicate a proposed Input must satisfy
// before it becomes a task. The original source encodes these as a single
// conjunction written in a non-commutative order; per the open question
// this implementation treats every rule as pure and order-independent, so
// they can be evaluated in any order (or skipped individually in tests)
// without changing the result.
type OptimizeRule int

const (
	// RuleNonEmpty rejects an input with no ssts.
	RuleNonEmpty OptimizeRule = iota
	// RuleNoDuplicateInput rejects an input that names the same sst twice.
	RuleNoDuplicateInput
	// RuleBoundedInputCount caps how many ssts one task may touch, so a
	// single task can't monopolize the compactor pool.
	RuleBoundedInputCount
)

// TaskValidator checks a proposed Input against a configured set of rules
// before GetCompactionTask hands it to a compactor.
type TaskValidator struct {
	rules        map[OptimizeRule]bool
	maxInputSsts int
}

// NewTaskValidator creates a validator with the given rules enabled.
func NewTaskValidator(maxInputSsts int, rules ...OptimizeRule) *TaskValidator {
	set := make(map[OptimizeRule]bool, len(rules))
	for _, r := range rules {
		set[r] = true
	}
	if maxInputSsts <= 0 {
		maxInputSsts = 64
	}
	return &TaskValidator{rules: set, maxInputSsts: maxInputSsts}
}

// DefaultTaskValidator enables all rules with a reasonable input bound.
func DefaultTaskValidator() *TaskValidator {
	return NewTaskValidator(64, RuleNonEmpty, RuleNoDuplicateInput, RuleBoundedInputCount)
}

// Validate returns nil if input passes every enabled rule, or the first
// violated rule.
func (v *TaskValidator) Validate(input *Input) *OptimizeRule {
	if input == nil {
		r := RuleNonEmpty
		return &r
	}
	if v.rules[RuleNonEmpty] && len(input.InputSsts) == 0 {
		r := RuleNonEmpty
		return &r
	}
	if v.rules[RuleNoDuplicateInput] {
		seen := make(map[uint64]bool, len(input.InputSsts))
		for _, s := range input.InputSsts {
			if seen[s.ID] {
				r := RuleNoDuplicateInput
				return &r
			}
			seen[s.ID] = true
		}
	}
	if v.rules[RuleBoundedInputCount] && len(input.InputSsts) > v.maxInputSsts {
		r := RuleBoundedInputCount
		return &r
	}
	return nil
}
