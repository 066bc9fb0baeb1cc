//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/machine-updater/internal/api/grpc/update"
	"github.com/oshokin/machine-updater/internal/config"
	"github.com/oshokin/machine-updater/internal/domain/update"
)

// Client wraps the gRPC UpdateService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the update worker.
	conn *grpc.ClientConn
	// api is the UpdateService client.
	api api.UpdateServiceClient

	// callTimeout is the default timeout for unary calls; streams have none.
	callTimeout time.Duration
	// actor is sent with every call for the worker's audit log.
	actor string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor sets the "user@host" reported to the worker.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the update worker.
// Note: this uses insecure transport credentials; the worker listens on
// loopback by default.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial update worker: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         api.NewUpdateServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Execute asks the worker to start a run and returns its ID.
func (c *Client) Execute(ctx context.Context, req update.Request) (string, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Execute(callCtx, api.RequestToProto(req))
	if err != nil {
		return "", fmt.Errorf("execute update: %w", err)
	}

	return api.RunIDFromProto(response), nil
}

// Cancel asks the worker to cancel the active run.
func (c *Client) Cancel(ctx context.Context) (update.CancelResult, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Cancel(callCtx, new(emptypb.Empty))
	if err != nil {
		return update.CancelResult{}, fmt.Errorf("cancel update: %w", err)
	}

	return api.CancelResultFromProto(response), nil
}

// Status fetches the worker's step table and remaining time.
func (c *Client) Status(ctx context.Context) (update.Status, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response, err := c.api.Status(callCtx, new(emptypb.Empty))
	if err != nil {
		return update.Status{}, fmt.Errorf("get update status: %w", err)
	}

	return api.StatusFromProto(response)
}

// EventStream receives events from the worker.
type EventStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (update.Envelope, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return update.Envelope{}, err
	}

	return api.EnvelopeFromProto(msg)
}

// Events opens the event stream. It stays open until ctx is cancelled or
// the worker shuts down.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	stream, err := c.api.Events(c.withActor(ctx), new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	// The worker sends headers once it has subscribed, so no event
	// published after Events returns is missed.
	if _, err = stream.Header(); err != nil {
		return nil, fmt.Errorf("open event stream: %w", err)
	}

	return &EventStream{stream: stream}, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = c.withActor(ctx)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) withActor(ctx context.Context) context.Context {
	if c.actor == "" {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, api.ActorMetadataKey, c.actor)
}
