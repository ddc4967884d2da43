package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin wrapper over a grpc.ClientConn to the meta service,
// grounded on the teacher's pkg/client.Client dial pattern, minus mTLS
// (left for a cluster-deployment concern outside this spec's scope).
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a meta node at addr.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func invoke[Resp any](ctx context.Context, c *Client, method string, req interface{}) (*Resp, error) {
	resp := new(Resp)
	fullMethod := fmt.Sprintf("/%s/%s", serviceDesc.ServiceName, method)
	if err := c.conn.Invoke(ctx, fullMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RegisterWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	return invoke[RegisterWorkerResponse](ctx, c, "RegisterWorker", req)
}

func (c *Client) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c, "Heartbeat", req)
}

func (c *Client) Activate(ctx context.Context, req *ActivateRequest) (*ActivateResponse, error) {
	return invoke[ActivateResponse](ctx, c, "Activate", req)
}

func (c *Client) PinSnapshot(ctx context.Context) (*PinSnapshotResponse, error) {
	return invoke[PinSnapshotResponse](ctx, c, "PinSnapshot", &PinSnapshotRequest{})
}

func (c *Client) UnpinSnapshotBefore(ctx context.Context, epoch uint64) (*UnpinSnapshotBeforeResponse, error) {
	return invoke[UnpinSnapshotBeforeResponse](ctx, c, "UnpinSnapshotBefore", &UnpinSnapshotBeforeRequest{Epoch: epoch})
}

func (c *Client) AddTables(ctx context.Context, req *AddTablesRequest) (*AddTablesResponse, error) {
	return invoke[AddTablesResponse](ctx, c, "AddTables", req)
}

func (c *Client) GetCompactionTask(ctx context.Context, workerID string) (*GetCompactionTaskResponse, error) {
	return invoke[GetCompactionTaskResponse](ctx, c, "GetCompactionTask", &GetCompactionTaskRequest{WorkerID: workerID})
}

func (c *Client) ReportCompactionTask(ctx context.Context, req *ReportCompactionTaskRequest) (*ReportCompactionTaskResponse, error) {
	return invoke[ReportCompactionTaskResponse](ctx, c, "ReportCompactionTask", req)
}

// Subscribe opens the server-streaming notification feed for workerID,
// returning a channel of notifications that closes when the stream ends.
func (c *Client) Subscribe(ctx context.Context, workerID string) (<-chan *Notification, error) {
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fmt.Sprintf("/%s/Subscribe", serviceDesc.ServiceName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&SubscribeRequest{WorkerID: workerID}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan *Notification, 16)
	go func() {
		defer close(out)
		for {
			n := new(Notification)
			if err := stream.RecvMsg(n); err != nil {
				return
			}
			out <- n
		}
	}()
	return out, nil
}
