package chathub_test

import (
	"context"
	"testing"
	"time"

	"campusconnect/backend/internal/chathub"
	"campusconnect/backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisRelay_FansOut(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	// Two relays on the same Redis stand in for two instances.
	a := chathub.NewRedisRelay(rdb, zap.NewNop())
	b := chathub.NewRedisRelay(rdb, zap.NewNop())

	got := make(chan chathub.Delivery, 2)
	cancelA, err := a.Subscribe(ctx, func(d chathub.Delivery) { got <- d })
	require.NoError(t, err)
	defer cancelA()
	cancelB, err := b.Subscribe(ctx, func(d chathub.Delivery) { got <- d })
	require.NoError(t, err)
	defer cancelB()

	sent := chathub.Delivery{
		To:       []string{"amy", "ben"},
		Envelope: models.Envelope{Type: models.EnvelopeMessage, ChatID: "c1", Message: &models.ChatMessage{Content: "hi"}},
	}
	require.NoError(t, a.Publish(ctx, sent))

	for i := 0; i < 2; i++ {
		select {
		case d := <-got:
			assert.Equal(t, sent.To, d.To)
			assert.Equal(t, "hi", d.Envelope.Message.Content)
		case <-time.After(2 * time.Second):
			t.Fatal("delivery not relayed")
		}
	}
}

func TestLocalRelay_Cancel(t *testing.T) {
	r := chathub.NewLocalRelay()
	n := 0
	cancel, err := r.Subscribe(context.Background(), func(chathub.Delivery) { n++ })
	require.NoError(t, err)

	require.NoError(t, r.Publish(context.Background(), chathub.Delivery{}))
	cancel()
	require.NoError(t, r.Publish(context.Background(), chathub.Delivery{}))
	assert.Equal(t, 1, n)
}
