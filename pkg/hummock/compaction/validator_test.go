package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidestream/tidestream/pkg/hummock/version"
)

func TestDefaultValidatorRejectsEmptyInput(t *testing.T) {
	v := DefaultTaskValidator()
	violated := v.Validate(&Input{})
	if assert.NotNil(t, violated) {
		assert.Equal(t, RuleNonEmpty, *violated)
	}
}

func TestDefaultValidatorRejectsNilInput(t *testing.T) {
	v := DefaultTaskValidator()
	violated := v.Validate(nil)
	if assert.NotNil(t, violated) {
		assert.Equal(t, RuleNonEmpty, *violated)
	}
}

func TestDefaultValidatorRejectsDuplicateSsts(t *testing.T) {
	v := DefaultTaskValidator()
	dup := mkSst(1, "a", "b", 10)
	input := &Input{InputSsts: []*version.SstableInfo{dup, dup}}
	violated := v.Validate(input)
	if assert.NotNil(t, violated) {
		assert.Equal(t, RuleNoDuplicateInput, *violated)
	}
}

func TestDefaultValidatorRejectsTooManyInputs(t *testing.T) {
	v := NewTaskValidator(2, RuleBoundedInputCount)
	input := &Input{InputSsts: []*version.SstableInfo{
		mkSst(1, "a", "b", 1), mkSst(2, "c", "d", 1), mkSst(3, "e", "f", 1),
	}}
	violated := v.Validate(input)
	if assert.NotNil(t, violated) {
		assert.Equal(t, RuleBoundedInputCount, *violated)
	}
}

func TestValidatorAcceptsWellFormedInput(t *testing.T) {
	v := DefaultTaskValidator()
	input := &Input{InputSsts: []*version.SstableInfo{mkSst(1, "a", "b", 10)}}
	assert.Nil(t, v.Validate(input))
}

func TestValidatorWithNoRulesAcceptsAnything(t *testing.T) {
	v := NewTaskValidator(0)
	assert.Nil(t, v.Validate(&Input{}))
}
