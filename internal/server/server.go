// Package server exposes the assessment pipeline over gRPC and hot-reloads
// scoring and decision settings when the config file changes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/backupsentry/internal/audit"
	"github.com/ppiankov/backupsentry/internal/config"
	"github.com/ppiankov/backupsentry/internal/decision"
	"github.com/ppiankov/backupsentry/internal/honey"
	"github.com/ppiankov/backupsentry/internal/metrics"
	"github.com/ppiankov/backupsentry/internal/model"
	"github.com/ppiankov/backupsentry/internal/scan"
	"github.com/ppiankov/backupsentry/internal/scoring"
)

// Deps are the collaborators of a Server. Collector and Config are required.
type Deps struct {
	ConfigPath string
	Config     *config.Config
	ConfigHash string
	Collector  scan.Collector
	Honey      *honey.Registry
	Audit      *audit.Log
	Alerts     scan.AlertSink
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Server implements AssessorServer.
type Server struct {
	deps   Deps
	logger *slog.Logger

	mu         sync.RWMutex
	controller *decision.Controller
	scanner    *scan.Scanner
	configHash string

	grpcServer *grpc.Server
}

var _ AssessorServer = (*Server)(nil)

// New builds the pipeline from d.Config and registers the service.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Collector == nil {
		return nil, errors.New("server: config and collector are required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		deps:       d,
		logger:     d.Logger.With("component", "server"),
		grpcServer: grpc.NewServer(),
	}
	if err := s.apply(d.Config, d.ConfigHash); err != nil {
		return nil, err
	}
	RegisterAssessorServer(s.grpcServer, s)
	return s, nil
}

func (s *Server) apply(cfg *config.Config, hash string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	engine, err := scoring.NewEngine(cfg.Scoring)
	if err != nil {
		return err
	}
	ctrl, err := decision.NewController(cfg.Decision, engine)
	if err != nil {
		return err
	}
	sc := scan.New(s.deps.Collector, ctrl, cfg.Decision.MassRename,
		scan.WithWorkers(cfg.Workers),
		scan.WithLogger(s.deps.Logger),
		scan.WithMetrics(s.deps.Metrics),
		scan.WithAlerts(s.deps.Alerts),
	)

	s.mu.Lock()
	s.controller = ctrl
	s.scanner = sc
	s.configHash = hash
	s.mu.Unlock()

	if s.deps.Audit != nil {
		if err := s.deps.Audit.SetConfigHash(hash); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	return nil
}

// Reload re-reads the config file and atomically swaps scoring and decision
// settings. On error the running settings stay in place. Extractor settings
// only take effect on restart.
func (s *Server) Reload() error {
	cfg, hash, err := config.LoadConfigWithHash(s.deps.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	if err := s.apply(cfg, hash); err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	return nil
}

// ConfigHash returns the hash of the config currently in effect.
func (s *Server) ConfigHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configHash
}

// Serve listens on addr. Blocks until stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("assessor listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

type assessRequest struct {
	model.FileSignal
	ScanPassID string `json:"scan_pass_id"`
	Renamed    bool   `json:"renamed"`
	Suffix     string `json:"suffix"`
}

// Assess decides one file from its three component scores.
func (s *Server) Assess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req assessRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.FileID == "" {
		return nil, status.Error(codes.InvalidArgument, "file_id is required")
	}
	for name, v := range map[string]float64{
		"heuristic_score":  req.HeuristicScore,
		"sensitive_score":  req.SensitiveScore,
		"classifier_score": req.ClassifierScore,
	} {
		if v < 0 || v > 1 {
			return nil, status.Errorf(codes.InvalidArgument, "%s %v outside [0,1]", name, v)
		}
	}
	if req.ScanPassID == "" {
		req.ScanPassID = uuid.NewString()
	}

	s.mu.RLock()
	ctrl := s.controller
	s.mu.RUnlock()

	v, err := ctrl.Decide(decision.Input{
		ScanPassID: req.ScanPassID,
		Signal:     req.FileSignal,
		Renamed:    req.Renamed,
		Suffix:     req.Suffix,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.deps.Metrics.FileDecided(string(v.Action), v.RiskScore)
	if s.deps.Audit != nil {
		if err := s.deps.Audit.RecordVerdict(ctx, v); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	return ToStruct(v)
}

type scanRequest struct {
	Path     string   `json:"path"`
	Previous []string `json:"previous"`
}

// ScanPath scans a directory readable by the server process.
func (s *Server) ScanPath(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req scanRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if req.Path == "" {
		return nil, status.Error(codes.InvalidArgument, "path is required")
	}
	if _, err := os.Stat(req.Path); err != nil {
		return nil, status.Errorf(codes.NotFound, "%v", err)
	}

	s.mu.RLock()
	sc := s.scanner
	s.mu.RUnlock()

	res, err := sc.ScanDir(ctx, req.Path, req.Previous)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	if s.deps.Audit != nil {
		for _, v := range res.Verdicts {
			if err := s.deps.Audit.RecordVerdict(ctx, v); err != nil {
				s.logger.Warn("audit write failed", "error", err)
				break
			}
		}
		if err := s.deps.Audit.RecordBatch(ctx, res.Batch); err != nil {
			s.logger.Warn("audit write failed", "error", err)
		}
	}
	return ToStruct(res)
}

type honeyStatus struct {
	model.HoneySetRecord
	Active bool `json:"active"`
}

// HoneyStatus reports the registered honey sets, or one when "backup" is set.
func (s *Server) HoneyStatus(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		Backup string `json:"backup"`
	}
	if err := FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sets := []honeyStatus{}
	if s.deps.Honey != nil {
		for _, rec := range s.deps.Honey.List() {
			if req.Backup != "" && rec.Backup != req.Backup {
				continue
			}
			set, ok := s.deps.Honey.Get(rec.Backup)
			sets = append(sets, honeyStatus{HoneySetRecord: rec, Active: ok && set.Active()})
		}
	}
	if req.Backup != "" && len(sets) == 0 {
		return nil, status.Errorf(codes.NotFound, "no honey set for backup %q", req.Backup)
	}
	return ToStruct(map[string]any{"sets": sets})
}
