package update

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/machine-updater/internal/domain/update"
	"github.com/oshokin/machine-updater/internal/logger"
)

const (
	// ActorMetadataKey carries the requesting user@host for audit logs.
	ActorMetadataKey = "x-update-actor"
	// eventsBuffer is the per-stream subscription buffer.
	eventsBuffer = 512
)

// Subscription is a live attachment to the event stream.
type Subscription interface {
	Events() <-chan domain.Envelope
	Done() <-chan struct{}
	Close()
}

// Service abstracts the business operations the transport layer depends on.
type Service interface {
	Execute(ctx context.Context, req domain.Request) (string, error)
	Cancel(ctx context.Context) domain.CancelResult
	Status() domain.Status
	Subscribe(buffer int) Subscription
}

// Server implements the UpdateService gRPC API.
type Server struct {
	// service provides the update engine operations.
	service Service
}

var _ UpdateServiceServer = (*Server)(nil)

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Execute starts an update run.
func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	ctx = withActor(ctx)

	runID, err := s.service.Execute(ctx, RequestFromProto(req))
	if err != nil {
		return nil, toStatusError(err)
	}

	return RunIDToProto(runID), nil
}

// Cancel cancels the active run. A failed cancel is reported in the response, not as an error.
func (s *Server) Cancel(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return CancelResultToProto(s.service.Cancel(withActor(ctx))), nil
}

// Status returns the step table and the remaining time estimate.
func (s *Server) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return StatusToProto(s.service.Status()), nil
}

// Events streams run events until the client goes away.
func (s *Server) Events(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := withActor(stream.Context())

	sub := s.service.Subscribe(eventsBuffer)
	defer sub.Close()

	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	logger.Debug(ctx, "Event stream opened")

	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "Event stream closed")

			return nil
		case <-sub.Done():
			return status.Error(codes.Unavailable, "event stream closed")
		case env := <-sub.Events():
			msg, err := EnvelopeToProto(env)
			if err != nil {
				logger.WarnKV(ctx, "Unable to encode event", "error", err)

				continue
			}

			if err = stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// toStatusError maps engine errors to gRPC status codes.
func toStatusError(err error) error {
	switch {
	case errors.Is(err, domain.ErrOwnerRequired),
		errors.Is(err, domain.ErrRepositoryRequired),
		errors.Is(err, domain.ErrNoRevisionSelector),
		errors.Is(err, domain.ErrMultipleRevisionSelectors):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrMissingWorkingRoot):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// withActor adds the requesting actor, if sent, to the context logger.
func withActor(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	if values := md.Get(ActorMetadataKey); len(values) > 0 {
		return logger.WithKV(ctx, "actor", values[0])
	}

	return ctx
}
