//go:build integration

package blackboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dyluth/boardlink/pkg/events"
)

// startRedis runs a throwaway redis container and returns its URL.
func startRedis(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := redisC.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

func TestMirror_AgainstRealRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := NewClientFromURL(startRedis(t, ctx), "itest")
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Ping(ctx))

	bus := events.NewBus()
	defer bus.Close()
	detach, err := client.Mirror(bus)
	require.NoError(t, err)
	defer detach()

	sub, err := client.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	_, err = bus.Publish(events.TypeDecisionMade, map[string]any{
		"popup_id":   "popup-1",
		"popup_text": "Buy Mayfair?",
		"options":    []string{"buy", "auction"},
		"decision":   "buy",
		"reason":     "default priority",
		"confidence": 0.5,
	}, "policy")
	require.NoError(t, err)

	select {
	case evt := <-sub.Events():
		assert.Equal(t, events.TypeDecisionMade, evt.Type)
		assert.Equal(t, "popup-1", evt.Data["popup_id"])
	case err := <-sub.Errors():
		t.Fatalf("subscription error: %v", err)
	case <-ctx.Done():
		t.Fatal("no mirrored event received")
	}

	require.Eventually(t, func() bool {
		rec, err := client.GetDecision(ctx, "popup-1")
		return err == nil && rec.Choice == "buy"
	}, 10*time.Second, 100*time.Millisecond)

	recent, err := client.RecentDecisions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []string{"buy", "auction"}, recent[0].Options)

	require.NoError(t, client.SaveSnapshot(ctx, []byte(`{"global":{"status":"running"}}`)))
	data, err := client.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"global":{"status":"running"}}`, string(data))
}
