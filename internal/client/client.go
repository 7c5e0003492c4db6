// Package client talks to a remote packages API server through its
// repositories gRPC service.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cropalato/pkgrepo/internal/repository"
	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

const defaultTimeout = 30 * time.Second

// Options configures the connection to the API server
type Options struct {
	Address  string
	Insecure bool
	Token    string
	Timeout  time.Duration

	// DialOptions are appended to the ones built from the fields above
	DialOptions []grpc.DialOption
}

// Client implements repository.Service against the repositories gRPC service
type Client struct {
	conn    *grpc.ClientConn
	logger  *zap.Logger
	timeout time.Duration
}

var _ repository.Service = (*Client)(nil)

// New creates a client. No connection is made until the first call.
func New(opts Options, logger *zap.Logger) (*Client, error) {
	if opts.Address == "" {
		return nil, customerrors.NewConfigError("grpc.address", opts.Address, customerrors.New("address is required"))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	creds := insecure.NewCredentials()
	if !opts.Insecure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}
	if opts.Token != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(tokenInterceptor(opts.Token)))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{conn: conn, logger: logger, timeout: timeout}, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Add creates a package repository
func (c *Client) Add(ctx context.Context, cfg repository.Config) (repository.Reference, error) {
	var resp AddPackageRepositoryResponse
	if err := c.invoke(ctx, "AddPackageRepository", NewAddRequest(cfg), &resp); err != nil {
		return repository.Reference{}, wrapCallError(err, "create", cfg.Name)
	}
	return resp.PackageRepoRef, nil
}

// Update replaces the configuration of a package repository
func (c *Client) Update(ctx context.Context, cfg repository.Config) (repository.Reference, error) {
	var resp UpdatePackageRepositoryResponse
	if err := c.invoke(ctx, "UpdatePackageRepository", NewUpdateRequest(cfg), &resp); err != nil {
		return repository.Reference{}, wrapCallError(err, "update", cfg.Name)
	}
	return resp.PackageRepoRef, nil
}

// Get fetches the configuration of a package repository
func (c *Client) Get(ctx context.Context, ref repository.Reference) (repository.Config, error) {
	var resp GetPackageRepositoryDetailResponse
	req := &GetPackageRepositoryDetailRequest{PackageRepoRef: ref}
	if err := c.invoke(ctx, "GetPackageRepositoryDetail", req, &resp); err != nil {
		return repository.Config{}, wrapCallError(err, "fetch", ref.Identifier)
	}

	if s := resp.Detail.Status; s != nil && !s.OK {
		c.logger.Warn("package repository is not ready",
			zap.String("repo", ref.Identifier),
			zap.String("reason", s.Reason),
			zap.String("user_reason", s.UserReason))
	}
	return ConfigFromDetail(resp.Detail), nil
}

// List lists the package repositories of a context
func (c *Client) List(ctx context.Context, rc repository.Context) ([]repository.Summary, error) {
	var resp GetPackageRepositorySummariesResponse
	req := &GetPackageRepositorySummariesRequest{Context: rc}
	if err := c.invoke(ctx, "GetPackageRepositorySummaries", req, &resp); err != nil {
		return nil, wrapCallError(err, "list", "")
	}

	summaries := make([]repository.Summary, 0, len(resp.PackageRepositorySummaries))
	for _, s := range resp.PackageRepositorySummaries {
		summaries = append(summaries, SummaryFromWire(s))
	}
	return summaries, nil
}

// Delete removes a package repository
func (c *Client) Delete(ctx context.Context, ref repository.Reference) error {
	var resp DeletePackageRepositoryResponse
	req := &DeletePackageRepositoryRequest{PackageRepoRef: ref}
	if err := c.invoke(ctx, "DeletePackageRepository", req, &resp); err != nil {
		return wrapCallError(err, "delete", ref.Identifier)
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp)

	c.logger.Debug("repositories service call",
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

func tokenInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// wrapCallError keeps the code and message reported by the server and maps
// the not found and already exists codes onto the shared sentinels.
func wrapCallError(err error, op, repo string) error {
	svcErr := customerrors.ParseServiceError(err)

	var cause error = svcErr
	switch status.Code(err) {
	case codes.NotFound:
		cause = fmt.Errorf("%w: %w", customerrors.ErrNotFound, svcErr)
	case codes.AlreadyExists:
		cause = fmt.Errorf("%w: %w", customerrors.ErrAlreadyExists, svcErr)
	}
	return customerrors.WrapRepositoryError(cause, op, repo)
}
