package executor

import "github.com/tidestream/tidestream/pkg/udf"

// ScalarCall describes one scalar UDF invocation within a projection: name
// is looked up in the registry, argIndices picks the input columns passed
// as arguments, in order.
type ScalarCall struct {
	Name       string
	ArgIndices []int
}

// NewUDFProjectTransform builds a RowTransform that appends one output
// column per call in calls, evaluated left to right against reg, after the
// row's existing columns. A failed call yields a nil result column rather
// than aborting the chunk; ProjectExecutor has no per-row error channel, so
// a UDF that needs to reject a row should instead be paired with a
// FilterExecutor upstream.
func NewUDFProjectTransform(reg *udf.Registry, calls []ScalarCall) RowTransform {
	return func(row []interface{}) []interface{} {
		out := append([]interface{}{}, row...)
		for _, call := range calls {
			args := make([]interface{}, len(call.ArgIndices))
			for i, idx := range call.ArgIndices {
				args[i] = row[idx]
			}
			result, err := reg.Call(call.Name, args)
			if err != nil {
				out = append(out, nil)
				continue
			}
			out = append(out, result)
		}
		return out
	}
}
