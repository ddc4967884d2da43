package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tidestream/tidestream/pkg/udf"
)

func TestUDFProjectTransformAppendsCallResult(t *testing.T) {
	reg := udf.NewRegistry()
	reg.Register("double", func(args []interface{}) (interface{}, error) {
		return args[0].(int64) * 2, nil
	})

	transform := NewUDFProjectTransform(reg, []ScalarCall{{Name: "double", ArgIndices: []int{0}}})
	out := transform([]interface{}{int64(21)})

	assert.Equal(t, []interface{}{int64(21), int64(42)}, out)
}

func TestUDFProjectTransformAppliesMultipleCallsInOrder(t *testing.T) {
	reg := udf.NewRegistry()
	reg.Register("inc", func(args []interface{}) (interface{}, error) {
		return args[0].(int64) + 1, nil
	})

	transform := NewUDFProjectTransform(reg, []ScalarCall{
		{Name: "inc", ArgIndices: []int{0}},
		{Name: "inc", ArgIndices: []int{1}},
	})
	out := transform([]interface{}{int64(1), int64(10)})

	assert.Equal(t, []interface{}{int64(1), int64(10), int64(2), int64(11)}, out)
}

func TestUDFProjectTransformAppendsNilOnCallError(t *testing.T) {
	reg := udf.NewRegistry()
	transform := NewUDFProjectTransform(reg, []ScalarCall{{Name: "missing", ArgIndices: nil}})

	out := transform([]interface{}{int64(1)})
	assert.Equal(t, []interface{}{int64(1), nil}, out)
}
