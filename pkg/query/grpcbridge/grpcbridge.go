// Package grpcbridge talks to an engine query bridge over gRPC.
//
// The service is solpivot.bridge.v1.QueryBridge with three unary methods
// (OpenSession, Query, CloseSession). Messages are google.protobuf.Struct so
// the bridge can be implemented in any language without generated stubs.
// Liveness goes through the standard grpc.health.v1 service.
package grpcbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/solpivot/pkg/query"
	"github.com/HatiCode/solpivot/pkg/window"
)

// ServiceName is the fully qualified bridge service.
const ServiceName = "solpivot.bridge.v1.QueryBridge"

const (
	methodOpen  = "/" + ServiceName + "/OpenSession"
	methodQuery = "/" + ServiceName + "/Query"
	methodClose = "/" + ServiceName + "/CloseSession"

	isoLayout = "2006-01-02T15:04:05"
)

// Client opens sessions on a gRPC bridge.
type Client struct {
	conn   grpc.ClientConnInterface
	health grpc_health_v1.HealthClient
	closer func() error
}

// Dial connects to the bridge at addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpcbridge: dial %s: %w", addr, err)
	}
	c := NewFromConn(conn)
	c.closer = conn.Close
	return c, nil
}

// NewFromConn wraps an existing connection. Close does not close conn.
func NewFromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
	}
}

// Ping asks the health service whether the bridge is serving.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("grpcbridge: health check: %w", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpcbridge: bridge is %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection if the client dialed it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Open implements query.Opener.
func (c *Client) Open(ctx context.Context, archivePath string) (query.Session, error) {
	if archivePath == "" {
		return nil, errors.New("grpcbridge: archive path cannot be empty")
	}
	in, err := structpb.NewStruct(map[string]any{"archive": archivePath})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodOpen, in, out); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	id := out.GetFields()["session_id"].GetStringValue()
	if id == "" {
		return nil, errors.New("open session: bridge returned an empty session id")
	}
	return &session{client: c, id: id}, nil
}

type session struct {
	client *Client
	id     string
	closed bool
}

func (s *session) Query(ctx context.Context, req query.Request) (query.Result, error) {
	if s.closed {
		return query.Result{}, errors.New("grpcbridge: query on closed session")
	}
	m := EncodeRequest(req)
	m["session_id"] = s.id
	in, err := structpb.NewStruct(m)
	if err != nil {
		return query.Result{}, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := s.client.conn.Invoke(ctx, methodQuery, in, out); err != nil {
		return query.Result{}, fmt.Errorf("query collection %d property %d: %w", req.Collection, req.Property, err)
	}

	list := out.GetFields()["rows"].GetListValue().AsSlice()
	records := make([]map[string]any, 0, len(list))
	var rejected []error
	for i, v := range list {
		rec, ok := v.(map[string]any)
		if !ok {
			rejected = append(rejected, fmt.Errorf("row %d: not an object", i))
			continue
		}
		records = append(records, rec)
	}
	res := query.DecodeRows(records)
	res.Rejected = append(res.Rejected, rejected...)
	return res, nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	in, _ := structpb.NewStruct(map[string]any{"session_id": s.id})
	if err := s.client.conn.Invoke(ctx, methodClose, in, new(structpb.Struct)); err != nil {
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	return nil
}

// EncodeRequest turns a request into the Struct field map sent on the wire.
func EncodeRequest(req query.Request) map[string]any {
	m := map[string]any{
		"collection": req.Collection,
		"property":   req.Property,
		"parent":     req.Parent,
		"child":      req.Child,
		"period":     string(req.Period),
	}
	if req.Window != nil {
		m["window"] = map[string]any{
			"start": req.Window.Start.Format(isoLayout),
			"end":   req.Window.End.Format(isoLayout),
		}
	}
	return m
}

// DecodeRequest is the inverse of EncodeRequest.
func DecodeRequest(s *structpb.Struct) (query.Request, error) {
	f := s.GetFields()
	req := query.Request{
		Collection: int(f["collection"].GetNumberValue()),
		Property:   int(f["property"].GetNumberValue()),
		Parent:     f["parent"].GetStringValue(),
		Child:      f["child"].GetStringValue(),
	}
	p, err := query.ParsePeriod(f["period"].GetStringValue())
	if err != nil {
		return query.Request{}, err
	}
	req.Period = p

	if w := f["window"].GetStructValue(); w != nil {
		start, err := time.Parse(isoLayout, w.GetFields()["start"].GetStringValue())
		if err != nil {
			return query.Request{}, fmt.Errorf("window start: %w", err)
		}
		end, err := time.Parse(isoLayout, w.GetFields()["end"].GetStringValue())
		if err != nil {
			return query.Request{}, fmt.Errorf("window end: %w", err)
		}
		req.Window = &window.Window{Start: start, End: end}
	}
	return req, nil
}
