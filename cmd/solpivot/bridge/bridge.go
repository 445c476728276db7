// Package bridge connects to the engine query bridge selected by the
// configuration.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/HatiCode/solpivot/cmd/solpivot/config"
	"github.com/HatiCode/solpivot/pkg/query"
	"github.com/HatiCode/solpivot/pkg/query/grpcbridge"
	"github.com/HatiCode/solpivot/pkg/query/httpbridge"
)

// Bridge is an Opener that can be health-checked and released.
type Bridge interface {
	query.Opener
	Ping(ctx context.Context) error
	Close() error
}

type httpBridge struct {
	*httpbridge.Client
}

func (httpBridge) Close() error { return nil }

// New creates the bridge client for cfg. The http transport takes a base URL;
// grpc takes host:port, and a leading scheme is ignored.
func New(cfg config.BridgeConfig) (Bridge, error) {
	switch cfg.Transport {
	case "http":
		if !strings.HasPrefix(cfg.Address, "http://") && !strings.HasPrefix(cfg.Address, "https://") {
			return nil, fmt.Errorf("bridge: http address must start with http:// or https://, got %q", cfg.Address)
		}
		return httpBridge{httpbridge.NewWithTimeout(strings.TrimRight(cfg.Address, "/"), cfg.Timeout)}, nil
	case "grpc":
		addr := cfg.Address
		if i := strings.Index(addr, "://"); i >= 0 {
			addr = addr[i+3:]
		}
		return grpcbridge.Dial(addr)
	default:
		return nil, fmt.Errorf("bridge: unknown transport %q", cfg.Transport)
	}
}
