package threads_test

import (
	"context"
	"testing"

	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/threads"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestThreadLifecycleAgainstRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	rdb, err := store.ConnectRedis(ctx, config.RedisConfig{Host: host, Port: port.Port()})
	if err != nil {
		t.Fatalf("ConnectRedis: %v", err)
	}
	defer rdb.Close()

	mgr := threads.NewManager(threads.NewRedisStore(rdb, "it:"), nil, nil, config.ThreadsConfig{LexicalFallback: true}, nil)

	th, err := mgr.CreateThread(ctx, threads.CreateThreadInput{UserID: "u1", Title: "Team day"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if err := mgr.AppendExchange(ctx, th.ID, "board games for twelve", "Here are three options.", nil); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	got, err := mgr.GetThread(ctx, th.ID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if got.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", got.MessageCount)
	}

	actx, err := mgr.ContextForAgent(ctx, th.ID, 5)
	if err != nil {
		t.Fatalf("ContextForAgent: %v", err)
	}
	history := actx.History()
	if len(history) != 2 || history[0].Role != llm.RoleUser || history[1].Role != llm.RoleAssistant {
		t.Fatalf("unexpected history: %+v", history)
	}

	hits, err := mgr.SearchMessages(ctx, threads.SearchQuery{UserID: "u1", Query: "board games"})
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(hits) == 0 || hits[0].Message.Content != "board games for twelve" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}
