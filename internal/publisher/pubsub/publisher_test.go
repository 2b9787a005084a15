package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestPublisher(t *testing.T) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	pub, err := Open(ctx, Config{ProjectID: "test-project"}, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close(ctx) })

	_, err = pub.client.CreateTopic(ctx, "crawls")
	require.NoError(t, err)
	return pub, srv
}

func TestPublish(t *testing.T) {
	pub, srv := newTestPublisher(t)

	id, err := pub.Publish(context.Background(), "crawls", map[string]any{
		"crawl_id": "crawl-1",
		"success":  true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "application/json", msgs[0].Attributes["content-type"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "crawl-1", decoded["crawl_id"])
	assert.Equal(t, true, decoded["success"])
}

func TestPublishReusesTopicHandle(t *testing.T) {
	pub, srv := newTestPublisher(t)

	for range 3 {
		_, err := pub.Publish(context.Background(), "crawls", map[string]string{"k": "v"})
		require.NoError(t, err)
	}
	assert.Len(t, srv.Messages(), 3)
	assert.Len(t, pub.topics, 1)
}

func TestPublishMissingTopic(t *testing.T) {
	pub, _ := newTestPublisher(t)

	_, err := pub.Publish(context.Background(), "does-not-exist", map[string]string{})
	require.ErrorContains(t, err, "publish message")
}

func TestPublishValidation(t *testing.T) {
	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", nil)
	require.Error(t, err)
	require.NoError(t, nilPub.Close(context.Background()))

	pub, _ := newTestPublisher(t)
	_, err = pub.Publish(context.Background(), "", nil)
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "crawls", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}

