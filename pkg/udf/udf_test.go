package udf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCallInvokesRegisteredFunction(t *testing.T) {
	r := NewRegistry()
	r.Register("double", func(args []interface{}) (interface{}, error) {
		return args[0].(int64) * 2, nil
	})

	result, err := r.Call("double", []interface{}{int64(21)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result)
}

func TestRegistryCallUnknownFunctionFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call("missing", nil)
	assert.Error(t, err)
}

func TestRegistryCallPropagatesFunctionError(t *testing.T) {
	r := NewRegistry()
	r.Register("fails", func(args []interface{}) (interface{}, error) {
		return nil, assert.AnError
	})

	_, err := r.Call("fails", nil)
	assert.ErrorIs(t, err, assert.AnError)
}
