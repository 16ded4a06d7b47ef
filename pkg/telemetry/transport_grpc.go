package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// rawCodec passes payloads through verbatim. The framed binary RPC
// transport carries an already-length-prefixed byte stream
// (wire.go), so no protobuf/JSON marshaling belongs in the RPC layer
// itself — this mirrors grpc-go's own "bytes" codec idiom used by raw
// proxying services.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	b, _ := v.(*[]byte)
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	b, _ := v.(*[]byte)
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string { return "renacer-raw" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// GRPCTransport sends batches over a persistent gRPC connection using
// the "SubmitDecisions" unary method, passing the framed byte stream
// through unmodified.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	method string
}

// DialGRPC establishes a gRPC connection to endpoint for use as a
// Transport. GRPCTransport attaches no per-call metadata, so it sends no
// authentication headers; opts are applied after the default insecure
// credentials and raw codec.
func DialGRPC(endpoint string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rawCodec{}.Name())),
	}, opts...)
	conn, err := grpc.NewClient(endpoint, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &GRPCTransport{conn: conn, method: "/renacer.telemetry.v1.Collector/SubmitDecisions"}, nil
}

// Send implements Transport.
func (t *GRPCTransport) Send(ctx context.Context, batch []byte) error {
	req := batch
	var reply []byte
	return t.conn.Invoke(ctx, t.method, &req, &reply)
}

// Close releases the underlying connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}
