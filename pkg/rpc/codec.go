// Package rpc is the Meta <-> compute/compactor control plane: RegisterWorker,
// Heartbeat, Activate, PinSnapshot/UnpinSnapshotBefore, AddTables,
// GetCompactionTask/ReportCompactionTask, and Subscribe (a server-streaming
// feed of cluster notifications a worker reacts to). Built on
// google.golang.org/grpc the way the teacher's pkg/api does, but with a
// hand-registered JSON codec and hand-written grpc.ServiceDesc in place of
// protoc-generated stubs, since no .proto toolchain is available here —
// grpc-go's wire contract only requires a codec plus a ServiceDesc; protoc
// just automates writing both.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodec marshals gRPC messages as JSON instead of protobuf wire format.
// Registered once via init() under the name "json"; both client and server
// select it with grpc.CallContentSubtype("json")/grpc.ForceServerCodec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
