package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/relaychat/internal/config"
	"github.com/PaulBabatuyi/relaychat/internal/db"
	"github.com/PaulBabatuyi/relaychat/internal/events"
	"github.com/PaulBabatuyi/relaychat/internal/rpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const bufSize = 1024 * 1024

// TestMongoEndToEnd registers two users over HTTP, connects both over the
// gRPC event stream and checks a message reaches the receiver and is
// readable from history afterwards.
func TestMongoEndToEnd(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	cfg := config.Default()
	cfg.StoreBackend = config.BackendMongo
	cfg.MongoURI = uri
	cfg.MongoDatabase = fmt.Sprintf("relaychat_it_%d", time.Now().UnixNano())

	users, chats, closeStores, err := openStores(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("openStores failed: %v", err)
	}
	defer func() {
		closeStores()
		dbClient, err := db.New(context.Background(), uri, cfg.MongoDatabase)
		if err != nil {
			return
		}
		_ = dbClient.UsersCollection().Drop(context.Background())
		_ = dbClient.UserChatsCollection().Drop(context.Background())
		_ = dbClient.MessagesCollection().Drop(context.Background())
		_ = dbClient.Close(context.Background())
	}()

	app, h := newTestApp(t, chats, users)
	alice := signup(t, h, "alice")
	bob := signup(t, h, "bob")
	aliceToken := alice.cookie.Value
	bobToken := bob.cookie.Value

	// set up bufconn server
	lis := bufconn.Listen(bufSize)
	s := app.grpcServer()
	go func() {
		_ = s.Serve(lis)
	}()
	defer s.Stop()

	// Dialer via bufconn
	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to dial bufnet: %v", err)
	}
	defer conn.Close()
	evClient := rpc.NewEventServiceClient(conn)

	aliceStream := connect(t, evClient, aliceToken)
	send(t, aliceStream, events.Join, map[string]any{"userId": alice.id})
	bobStream := connect(t, evClient, bobToken)
	send(t, bobStream, events.Join, map[string]any{"userId": bob.id})
	recvEvent(t, aliceStream, events.UserOnline)

	send(t, aliceStream, events.SendMessage, map[string]any{"receiverId": bob.id, "text": "persisted"})
	got := recvEvent(t, bobStream, events.MessageReceived)
	msg, _ := got["message"].(map[string]any)
	if msg["text"] != "persisted" || got["senderId"] != alice.id {
		t.Fatalf("unexpected message-received %v", got)
	}

	w := bob.do(http.MethodGet, "/api/messages?userId="+alice.id, nil)
	var hist events.MessagesLoadedPayload
	decodeBody(t, w, &hist)
	if len(hist.Messages) != 1 || hist.Messages[0].Text != "persisted" {
		t.Fatalf("history not persisted: %s", w.Body.String())
	}
}

func connect(t *testing.T, ec *rpc.EventServiceClient, token string) rpc.EventService_ConnectClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	stream, err := ec.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return stream
}

func send(t *testing.T, stream rpc.EventService_ConnectClient, event string, payload map[string]any) {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{"event": event, "data": payload})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	if err := stream.Send(s); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// recvEvent reads frames until one named event arrives.
func recvEvent(t *testing.T, stream rpc.EventService_ConnectClient, event string) map[string]any {
	t.Helper()
	done := make(chan map[string]any, 1)
	errc := make(chan error, 1)
	go func() {
		for {
			s, err := stream.Recv()
			if err != nil {
				errc <- err
				return
			}
			m := s.AsMap()
			if m["event"] == event {
				data, _ := m["data"].(map[string]any)
				done <- data
				return
			}
		}
	}()
	select {
	case m := <-done:
		return m
	case err := <-errc:
		t.Fatalf("waiting for %s: %v", event, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", event)
	}
	return nil
}
