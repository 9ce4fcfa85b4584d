package rpc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/chat"
	"github.com/PaulBabatuyi/relaychat/internal/dispatch"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const streamSendBuffer = 128

// Server implements EventServiceServer on top of the shared dispatcher.
type Server struct {
	dispatcher   *dispatch.Dispatcher
	log          *zap.Logger
	eventTimeout time.Duration
}

// NewServer returns a Server dispatching to d.
func NewServer(d *dispatch.Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{dispatcher: d, log: log.Named("rpc"), eventTimeout: 10 * time.Second}
}

// streamConn adapts one stream to dispatch.Conn. Frames are queued and
// written by the stream's handler goroutine only, since a gRPC stream must
// not be sent on concurrently.
type streamConn struct {
	id      string
	session string
	send    chan *structpb.Struct
	done    chan struct{}
	once    sync.Once
}

func (c *streamConn) ID() string            { return c.id }
func (c *streamConn) SessionUserID() string { return c.session }

func (c *streamConn) Send(f events.Frame) error {
	m, err := f.ToMap()
	if err != nil {
		return err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return errors.Wrap(err, "encode frame struct")
	}
	select {
	case <-c.done:
		return errors.New("stream closed")
	default:
	}
	select {
	case <-c.done:
		return errors.New("stream closed")
	case c.send <- s:
		return nil
	default:
		_ = c.Close()
		return errors.New("stream buffer exceeded")
	}
}

func (c *streamConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type recvResult struct {
	msg *structpb.Struct
	err error
}

// Connect runs one client stream until the client hangs up, the stream
// fails, or the registry closes the connection.
func (s *Server) Connect(stream EventService_ConnectServer) error {
	ctx := stream.Context()
	user, ok := UserFromContext(ctx)
	if !ok {
		return status.Errorf(codes.Unauthenticated, "missing session")
	}
	conn := &streamConn{
		id:      uuid.NewString(),
		session: user,
		send:    make(chan *structpb.Struct, streamSendBuffer),
		done:    make(chan struct{}),
	}
	log := s.log.With(zap.String("conn", conn.id), zap.String("session", user))
	log.Debug("stream opened")

	defer func() {
		s.dispatcher.Disconnect(conn)
		_ = conn.Close()
		log.Debug("stream closed")
	}()

	recvCh := make(chan recvResult)
	go func() {
		for {
			m, err := stream.Recv()
			select {
			case recvCh <- recvResult{msg: m, err: err}:
			case <-conn.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-conn.done:
			return nil
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case m := <-conn.send:
			if err := stream.Send(m); err != nil {
				return err
			}
		case r := <-recvCh:
			if r.err == io.EOF {
				return nil
			}
			if r.err != nil {
				return r.err
			}
			s.handle(ctx, conn, r.msg, log)
		}
	}
}

func (s *Server) handle(ctx context.Context, conn *streamConn, m *structpb.Struct, log *zap.Logger) {
	f, err := events.FrameFromMap(m.AsMap())
	if err != nil {
		_ = conn.Send(events.ErrorFrame(events.ErrMalformedFrame.Error()))
		return
	}

	evCtx, cancel := context.WithTimeout(ctx, s.eventTimeout)
	defer cancel()
	if err := s.dispatcher.Dispatch(evCtx, conn, f); err != nil && !errors.Is(err, chat.ErrUnknownEvent) {
		log.Debug("event rejected", zap.String("event", f.Event), zap.Error(err))
	}
}
