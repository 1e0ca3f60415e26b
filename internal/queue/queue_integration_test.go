//go:build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/your-org/faceid/internal/models"
)

func setupNATS(t *testing.T) string {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			Cmd:          []string{"-js"},
			WaitingFor: wait.ForLog("Server is ready").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%d", host, port.Int())
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	url := setupNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	producer, err := NewProducer(url)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureStreams(ctx))
	require.NoError(t, producer.Ping())

	consumer, err := NewConsumer(url)
	require.NoError(t, err)

	received := make(chan *models.FaceEvent, 4)
	consumeCtx, stop := context.WithCancel(ctx)
	require.NoError(t, consumer.ConsumeEvents(consumeCtx, "test-events", func(_ context.Context, evt *models.FaceEvent) error {
		received <- evt
		return nil
	}))

	profile := 4
	sent := models.NewFaceEvent(models.EventEnrolled, "alice", &profile)
	sent.SampleCount = 5
	require.NoError(t, producer.Publish(ctx, sent))
	// same message id, dropped by the stream's duplicate window
	require.NoError(t, producer.Publish(ctx, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, models.EventEnrolled, got.Type)
		assert.Equal(t, "alice", got.Identity)
		require.NotNil(t, got.ProfileID)
		assert.Equal(t, 4, *got.ProfileID)
		assert.Equal(t, 5, got.SampleCount)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}

	select {
	case dup := <-received:
		t.Fatalf("duplicate delivered: %v", dup.ID)
	case <-time.After(500 * time.Millisecond):
	}

	stop()
	consumer.Close()
}
