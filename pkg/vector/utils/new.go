// Package vectorutils builds vector.Driver implementations from configuration.
package vectorutils

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/storyloom/pkg/vector"
	"github.com/papercomputeco/storyloom/pkg/vector/chroma"
	"github.com/papercomputeco/storyloom/pkg/vector/local"
	"github.com/papercomputeco/storyloom/pkg/vector/qdrant"
	"github.com/papercomputeco/storyloom/pkg/vector/sqlitevec"
)

const (
	ProviderMemory = "memory"
	ProviderSQLite = "sqlite"
	ProviderChroma = "chroma"
	ProviderQdrant = "qdrant"
)

type NewVectorDriverOpts struct {
	ProviderType string

	// TargetURL is the chroma server URL or qdrant host:port.
	TargetURL string

	// SQLitePath is the sqlite-vec database file.
	SQLitePath string

	Collection string
	Dimensions uint
	Logger     *zap.Logger
}

func NewVectorDriver(ctx context.Context, o *NewVectorDriverOpts) (vector.Driver, error) {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch o.ProviderType {
	case ProviderMemory, "":
		return local.NewDriver(o.Dimensions), nil
	case ProviderSQLite:
		return sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     o.SQLitePath,
			Collection: o.Collection,
			Dimensions: o.Dimensions,
		}, logger)
	case ProviderChroma:
		return chroma.NewDriver(chroma.Config{
			URL:            o.TargetURL,
			CollectionName: o.Collection,
		}, logger)
	case ProviderQdrant:
		host, port, err := splitHostPort(o.TargetURL)
		if err != nil {
			return nil, err
		}
		return qdrant.NewDriver(ctx, qdrant.Config{
			Host:           host,
			Port:           port,
			CollectionName: o.Collection,
			Dimensions:     o.Dimensions,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported vector store provider: %s", o.ProviderType)
	}
}

func splitHostPort(target string) (string, int, error) {
	target = strings.TrimPrefix(strings.TrimPrefix(target, "http://"), "https://")
	if target == "" {
		return "", 0, fmt.Errorf("qdrant target is required")
	}
	if !strings.Contains(target, ":") {
		return target, qdrant.DefaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("parsing qdrant target %q: %w", target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing qdrant port %q: %w", portStr, err)
	}
	return host, port, nil
}
