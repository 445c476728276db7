package main

import (
	"errors"
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/HatiCode/solpivot/pkg/query/grpcbridge"
	"github.com/HatiCode/solpivot/pkg/query/httpbridge"
)

func relayCMD() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve an HTTP query bridge over gRPC",
		Long: "relay exposes the configured HTTP bridge as the gRPC QueryBridge service,\n" +
			"so that extractions on other hosts can use --transport grpc.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			if a.cfg.Bridge.Transport != "http" {
				return errors.New("relay needs an http upstream bridge")
			}
			listen, _ := cmd.Flags().GetString("listen")

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("relay: listen %s: %w", listen, err)
			}

			relay := grpcbridge.NewRelay(httpbridge.NewWithTimeout(a.cfg.Bridge.Address, a.cfg.Bridge.Timeout), a.logger)
			srv := grpc.NewServer()
			grpcbridge.RegisterServer(srv, relay)
			hs := health.NewServer()
			grpc_health_v1.RegisterHealthServer(srv, hs)
			hs.SetServingStatus(grpcbridge.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Serve(lis)
			}()
			a.logger.Info("relay listening", "address", lis.Addr().String(), "upstream", a.cfg.Bridge.Address)

			select {
			case <-cmd.Context().Done():
				a.logger.Info("relay shutting down", "open_sessions", relay.Open())
				hs.Shutdown()
				srv.GracefulStop()
				relay.Shutdown()
				return nil
			case err := <-serveErr:
				relay.Shutdown()
				return err
			}
		},
	}
	cmd.Flags().String("listen", ":9090", "gRPC listen address")
	cmd.Flags().String("bridge", "", "upstream HTTP bridge address")
	cmd.Flags().String("transport", "", "upstream bridge transport (must be http)")
	return cmd
}
