package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// agentExtractMethod is the full method name served by the extraction sidecar.
const agentExtractMethod = "/strmly.agent.v1.DonationAgent/Extract"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errAgentResponse            = errors.New("agent returned error")
)

// AgentConfig holds connection settings for the extraction sidecar.
type AgentConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultAgentConfig returns default sidecar settings.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Agent extracts donations through a gRPC sidecar. Payloads are
// google.protobuf.Struct so no generated stubs are needed.
type Agent struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewAgent dials the sidecar and waits until the connection is ready.
func NewAgent(addr string, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultAgentConfig()
	if addr != "" {
		cfg.Address = addr
	}

	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to extraction agent at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("extraction agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to extraction agent", "address", cfg.Address)
	return &Agent{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (a *Agent) Close() {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health runs the standard gRPC health check against the sidecar.
func (a *Agent) Health(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(a.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("extraction agent status %s", resp.GetStatus())
	}
	return nil
}

// Extract sends {prompt, message} and returns the "text" field of the reply.
func (a *Agent) Extract(ctx context.Context, message string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt":  Prompt(message),
		"message": message,
	})
	if err != nil {
		return "", fmt.Errorf("build agent request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, agentExtractMethod, req, resp, grpc.WaitForReady(true)); err != nil {
		a.logger.Warn("Extraction agent call failed", "error", err, "address", a.addr)
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return agentText(resp)
}

// agentText reads the answer out of a sidecar reply. An "error" field is a
// service failure; a missing "text" field is passed through as empty.
func agentText(resp *structpb.Struct) (string, error) {
	fields := resp.GetFields()
	if errVal, ok := fields["error"]; ok {
		if msg := errVal.GetStringValue(); msg != "" {
			return "", fmt.Errorf("%w: %w: %s", ErrUnavailable, errAgentResponse, msg)
		}
	}
	return fields["text"].GetStringValue(), nil
}
