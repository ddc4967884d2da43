package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/tidestream/tidestream/pkg/hummock/compaction"
	"github.com/tidestream/tidestream/pkg/log"
	"github.com/tidestream/tidestream/pkg/meta"
)

func statusFromString(s string) compaction.TaskStatus { return compaction.TaskStatus(s) }

// Server implements the Meta control-plane RPCs over a hand-written
// grpc.ServiceDesc, grounded on the teacher's pkg/api.Server shape
// (manager handle + grpc.Server pair, ensureLeader guard on writes) minus
// the mTLS listener setup, which belongs to cluster deployment concerns
// outside this spec's scope.
type Server struct {
	mgr  *meta.Manager
	grpc *grpc.Server

	mu   sync.Mutex
	subs map[string]chan *Notification
}

// NewServer creates an RPC server bound to a meta Manager.
func NewServer(mgr *meta.Manager) *Server {
	s := &Server{
		mgr:  mgr,
		subs: make(map[string]chan *Notification),
	}
	s.grpc = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// Start listens and serves until the process stops it.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen: %w", err)
	}
	log.WithComponent("rpc").Info().Str("addr", addr).Msg("meta rpc server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs.
func (s *Server) Stop() { s.grpc.GracefulStop() }

func (s *Server) ensureLeader() error {
	if !s.mgr.IsLeader() {
		return fmt.Errorf("rpc: not the leader")
	}
	return nil
}

// Notify pushes a notification to every subscribed worker; addTables calls
// it after each committed version.
func (s *Server) Notify(n *Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default: // a slow subscriber drops notifications rather than blocking meta
		}
	}
}

// ---- unary handlers ----

func (s *Server) registerWorker(ctx context.Context, req *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if err := s.mgr.RegisterWorker(req.ID, meta.WorkerKind(req.Kind), req.Host, req.Port); err != nil {
		return nil, err
	}
	return &RegisterWorkerResponse{}, nil
}

func (s *Server) heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := s.mgr.Heartbeat(req.ID, req.UnixTime); err != nil {
		return nil, err
	}
	return &HeartbeatResponse{}, nil
}

func (s *Server) activate(ctx context.Context, req *ActivateRequest) (*ActivateResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if err := s.mgr.Activate(req.ID); err != nil {
		return nil, err
	}
	return &ActivateResponse{}, nil
}

func (s *Server) pinSnapshot(ctx context.Context, req *PinSnapshotRequest) (*PinSnapshotResponse, error) {
	epoch := s.mgr.HummockVersionManager().PinSnapshot()
	return &PinSnapshotResponse{Epoch: epoch}, nil
}

func (s *Server) unpinSnapshotBefore(ctx context.Context, req *UnpinSnapshotBeforeRequest) (*UnpinSnapshotBeforeResponse, error) {
	s.mgr.HummockVersionManager().UnpinSnapshotBefore(req.Epoch)
	return &UnpinSnapshotBeforeResponse{}, nil
}

func (s *Server) addTables(ctx context.Context, req *AddTablesRequest) (*AddTablesResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	v := s.mgr.HummockVersionManager().AddTables(req.Epoch, req.GroupID, req.Ssts)
	s.Notify(&Notification{Kind: "version", HummockVersion: v})
	return &AddTablesResponse{Version: v}, nil
}

func (s *Server) getCompactionTask(ctx context.Context, req *GetCompactionTaskRequest) (*GetCompactionTaskResponse, error) {
	task := s.mgr.CompactionScheduler().GetCompactionTask(req.WorkerID)
	return &GetCompactionTaskResponse{Task: task}, nil
}

func (s *Server) reportCompactionTask(ctx context.Context, req *ReportCompactionTaskRequest) (*ReportCompactionTaskResponse, error) {
	err := s.mgr.CompactionScheduler().ReportCompactionTask(req.TaskID, statusFromString(req.Status), req.Outputs)
	if err != nil {
		return nil, err
	}
	return &ReportCompactionTaskResponse{}, nil
}
