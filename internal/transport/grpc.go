package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"mini-storm/internal/common"
)

// jsonCodec reemplaza protobuf: los mensajes son structs planos de common.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber() // conserva enteros grandes dentro de Values
	return dec.Decode(v)
}

type empty struct{}

const (
	serviceName   = "ministorm.Transport"
	deliverMethod = "/" + serviceName + "/Deliver"
	ackMethod     = "/" + serviceName + "/Ack"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Inbound)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Ack", Handler: ackHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "transport.json",
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var d common.Delivery
	if err := dec(&d); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return &empty{}, toStatus(srv.(Inbound).Deliver(ctx, *req.(*common.Delivery)))
	}
	if interceptor == nil {
		return call(ctx, &d)
	}
	return interceptor(ctx, &d, &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}, call)
}

func ackHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var m common.AckMessage
	if err := dec(&m); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		return &empty{}, toStatus(srv.(Inbound).Ack(ctx, *req.(*common.AckMessage)))
	}
	if interceptor == nil {
		return call(ctx, &m)
	}
	return interceptor(ctx, &m, &grpc.UnaryServerInfo{Server: srv, FullMethod: ackMethod}, call)
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrStaleAssignment):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrUnknownTopology):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus traduce la respuesta remota a los errores del dominio.
func fromStatus(addr string, err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.FailedPrecondition:
		return common.ErrStaleAssignment
	case codes.NotFound:
		return common.ErrUnknownTopology
	case codes.Internal:
		return errors.New(st.Message())
	default:
		return unreachable(addr, err)
	}
}

// GRPCServer expone un Inbound por gRPC.
type GRPCServer struct {
	server   *grpc.Server
	listener net.Listener
	logger   *log.Logger
}

func NewGRPCServer(in Inbound, logger *log.Logger) *GRPCServer {
	if logger == nil {
		logger = log.Default()
	}
	s := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.RegisterService(&serviceDesc, in)
	return &GRPCServer{server: s, logger: logger}
}

// Start escucha en addr (":0" elige un puerto libre) y atiende en segundo plano.
func (s *GRPCServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = lis
	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Printf("[Transport] servidor gRPC detenido: %v", err)
		}
	}()
	s.logger.Printf("[Transport] gRPC escuchando en %s", lis.Addr())
	return nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop corta las llamadas en curso: un Deliver bloqueado por backpressure no espera.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

// GRPCClient mantiene una conexión por dirección.
type GRPCClient struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCClient() *GRPCClient {
	return &GRPCClient{conns: make(map[string]*grpc.ClientConn)}
}

func (c *GRPCClient) conn(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, unreachable(addr, err)
	}
	c.conns[addr] = cc
	return cc, nil
}

func (c *GRPCClient) Deliver(ctx context.Context, addr string, d common.Delivery) error {
	cc, err := c.conn(addr)
	if err != nil {
		return err
	}
	return fromStatus(addr, cc.Invoke(ctx, deliverMethod, &d, &empty{}))
}

func (c *GRPCClient) Ack(ctx context.Context, addr string, m common.AckMessage) error {
	cc, err := c.conn(addr)
	if err != nil {
		return err
	}
	return fromStatus(addr, cc.Invoke(ctx, ackMethod, &m, &empty{}))
}

func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for addr, cc := range c.conns {
		errs = append(errs, cc.Close())
		delete(c.conns, addr)
	}
	return errors.Join(errs...)
}
