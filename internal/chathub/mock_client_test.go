package chathub_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"campusconnect/backend/internal/models"
)

type MockClient struct {
	userID string
	send   chan models.Envelope

	mu     sync.Mutex
	hooks  []func()
	closed bool
}

func newMockClient(userID string) *MockClient {
	return &MockClient{userID: userID, send: make(chan models.Envelope, 32)}
}

func (c *MockClient) GetUserID() string                      { return c.userID }
func (c *MockClient) GetSendChannel() chan<- models.Envelope { return c.send }
func (c *MockClient) Run()                                   {}

func (c *MockClient) OnDisconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *MockClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	hooks := c.hooks
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// next waits for the first envelope of type typ, skipping others.
func (c *MockClient) next(t *testing.T, typ string) models.Envelope {
	t.Helper()
	return c.until(t, typ, func(models.Envelope) bool { return true })
}

// until waits for an envelope of type typ that satisfies ok.
func (c *MockClient) until(t *testing.T, typ string, ok func(models.Envelope) bool) models.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case env := <-c.send:
			if env.Type == typ && ok(env) {
				return env
			}
		case <-ctx.Done():
			t.Fatalf("%s: no %s envelope", c.userID, typ)
		}
	}
}
