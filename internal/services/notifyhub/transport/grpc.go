package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/NordCoder/Notifyhub/internal/domain/session"
	"github.com/NordCoder/Notifyhub/internal/obs"
	"github.com/NordCoder/Notifyhub/internal/services/notifyhub/delivery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	hubGRPC = "grpc"

	SessionServiceName = "notifyhub.v1.SessionService"
	ConnectMethod      = "/" + SessionServiceName + "/Connect"

	mdUserID        = "x-user-id"
	mdAuthorization = "authorization"
)

// SessionServer is the bidirectional session stream. Frames in both
// directions are google.protobuf.Struct values shaped like the WebSocket
// JSON frames.
type SessionServer interface {
	Connect(stream grpc.ServerStream) error
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "notifyhub/v1/session.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionServer).Connect(stream)
}

func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// GRPCSessions serves session streams. It expects StreamIdentityInterceptor
// in front of it.
type GRPCSessions struct {
	lc     *delivery.Lifecycle
	buffer int
	log    *zap.Logger
	m      *Metrics
}

func NewGRPCSessions(lc *delivery.Lifecycle, sendBuffer int, m *Metrics, log *zap.Logger) *GRPCSessions {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &GRPCSessions{
		lc:     lc,
		buffer: sendBuffer,
		log:    obs.Component(log, "transport.grpc"),
		m:      m,
	}
}

func (g *GRPCSessions) Connect(stream grpc.ServerStream) error {
	identity, ok := IdentityFromCtx(stream.Context())
	if !ok {
		g.m.connects.WithLabelValues(hubGRPC, "unauthorized").Inc()
		return status.Error(codes.Unauthenticated, "no identity")
	}
	g.m.connects.WithLabelValues(hubGRPC, "ok").Inc()

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	s := newQueued(identity, g.buffer)
	writerDone := make(chan error, 1)
	go func() { writerDone <- g.writeLoop(ctx, stream, s) }()

	conn, err := g.lc.Open(ctx, s)
	if err != nil {
		_ = s.Close()
		<-writerDone
		return status.Error(codes.InvalidArgument, err.Error())
	}

	// Returning ends the stream, which also unblocks a pending RecvMsg.
	readDone := make(chan error, 1)
	go func() { readDone <- g.readLoop(ctx, stream, conn) }()

	select {
	case err = <-readDone:
		conn.Close()
		_ = s.Close()
		if werr := <-writerDone; err == nil {
			err = werr
		}
	case err = <-writerDone:
		conn.Close()
	}
	return err
}

func (g *GRPCSessions) writeLoop(ctx context.Context, stream grpc.ServerStream, s *queued) error {
	for {
		select {
		case ev := <-s.out:
			frame, err := EventFrame(ev)
			if err != nil {
				g.log.Error("encode frame", zap.String("event", ev.Name), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(frame); err != nil {
				_ = s.Close()
				return err
			}
			g.m.frames.WithLabelValues(hubGRPC, "out").Inc()
		case <-s.closed():
			return nil
		case <-ctx.Done():
			_ = s.Close()
			return nil
		}
	}
}

func (g *GRPCSessions) readLoop(ctx context.Context, stream grpc.ServerStream, conn *delivery.Conn) error {
	for {
		frame := &structpb.Struct{}
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}
		g.m.frames.WithLabelValues(hubGRPC, "in").Inc()
		conn.Handle(ctx, CommandFromFrame(frame))
	}
}

// EventFrame renders ev as {"event": name, "data": {...}}.
func EventFrame(ev session.Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.Name, err)
	}
	return st, nil
}

func CommandFromFrame(frame *structpb.Struct) session.Command {
	f := frame.GetFields()
	return session.Command{
		Type: f["type"].GetStringValue(),
		ID:   f["id"].GetStringValue(),
	}
}
