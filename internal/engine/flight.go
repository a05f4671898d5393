package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// FlightConfig holds the Arrow Flight SQL endpoint settings
type FlightConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	Token    string
}

// FlightConfigFrom derives the Flight settings from the engine configuration.
func FlightConfigFrom(cfg *config.EngineConfig) FlightConfig {
	return FlightConfig{
		Host:     cfg.FlightHost,
		Port:     cfg.FlightPort,
		TLS:      cfg.FlightTLS,
		Username: cfg.Username,
		Password: cfg.Password,
		Token:    cfg.Token,
	}
}

// FlightClient runs statements over Arrow Flight SQL
type FlightClient struct {
	client *flightsql.Client
	cfg    FlightConfig
	logger zerolog.Logger
}

// NewFlightClient dials the Flight SQL endpoint. The connection is lazy, so
// errors surface on the first call.
func NewFlightClient(cfg FlightConfig, logger zerolog.Logger) (*FlightClient, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	creds := insecure.NewCredentials()
	if cfg.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client, err := flightsql.NewClient(addr, nil, nil, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create flight sql client for %s: %w", addr, err)
	}

	return &FlightClient{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "flight-client").Str("addr", addr).Logger(),
	}, nil
}

func (f *FlightClient) authenticate(ctx context.Context) (context.Context, error) {
	if f.cfg.Token != "" {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+f.cfg.Token), nil
	}
	authCtx, err := f.client.Client.AuthenticateBasicToken(ctx, f.cfg.Username, f.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: flight basic auth: %v", ErrAuthentication, err)
	}
	return authCtx, nil
}

// Query runs a statement and returns the number of rows read from all endpoints.
func (f *FlightClient) Query(ctx context.Context, sql string) (int64, error) {
	start := time.Now()

	ctx, err := f.authenticate(ctx)
	if err != nil {
		return 0, err
	}

	info, err := f.client.Execute(ctx, sql)
	if err != nil {
		return 0, fmt.Errorf("flight execute failed: %w", err)
	}

	var rows int64
	for i, endpoint := range info.Endpoint {
		reader, err := f.client.DoGet(ctx, endpoint.Ticket)
		if err != nil {
			return rows, fmt.Errorf("flight DoGet failed for endpoint %d: %w", i, err)
		}
		for reader.Next() {
			rows += reader.Record().NumRows()
		}
		readErr := reader.Err()
		reader.Release()
		if readErr != nil {
			return rows, fmt.Errorf("flight read failed for endpoint %d: %w", i, readErr)
		}
	}

	f.logger.Info().
		Int("endpoints", len(info.Endpoint)).
		Int64("rows", rows).
		Dur("duration", time.Since(start)).
		Msg("Flight query completed")

	return rows, nil
}

// Close closes the underlying gRPC connection
func (f *FlightClient) Close() error {
	return f.client.Close()
}

// FlightPing connects to the Flight SQL endpoint, runs sql and returns the
// row count. The connection is closed before it returns.
func FlightPing(ctx context.Context, cfg FlightConfig, sql string, logger zerolog.Logger) (int64, error) {
	f, err := NewFlightClient(cfg, logger)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Query(ctx, sql)
}
