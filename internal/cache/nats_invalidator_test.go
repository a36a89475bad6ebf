package cache

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOfflineInvalidator собирает invalidator без соединения для проверки обработки сообщений
func newOfflineInvalidator(nodeID string, handler InvalidationHandler) *NATSInvalidator {
	n := newInvalidator(&InvalidatorConfig{DedupeWindow: time.Minute}, nodeID)
	n.handler = handler
	return n
}

func invalidationMsg(t *testing.T, nodeID, key string, ts time.Time) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(regionSaved{Key: key, Node: nodeID, SavedAt: ts})
	require.NoError(t, err)
	return &nats.Msg{Data: data}
}

func TestInvalidatorHandlesMessages(t *testing.T) {
	var got []string
	n := newOfflineInvalidator("self", func(key string) error {
		got = append(got, key)
		return nil
	})

	t0 := time.Now()
	n.onMessage(invalidationMsg(t, "other", "overworld:1:2", t0))
	// повторная доставка того же сообщения
	n.onMessage(invalidationMsg(t, "other", "overworld:1:2", t0))
	// новое сохранение того же региона
	n.onMessage(invalidationMsg(t, "third", "overworld:1:2", t0.Add(time.Millisecond)))
	// собственное сообщение
	n.onMessage(invalidationMsg(t, "self", "overworld:5:5", t0))
	// мусор
	n.onMessage(&nats.Msg{Data: []byte("{")})

	assert.Equal(t, []string{"overworld:1:2", "overworld:1:2"}, got)
	assert.EqualValues(t, 5, n.received.Load())
	assert.EqualValues(t, 1, n.failed.Load())
}

func TestInvalidatorDedupeCleanup(t *testing.T) {
	n := newOfflineInvalidator("self", nil)
	n.config.DedupeWindow = 50 * time.Millisecond
	assert.True(t, n.firstSeen("a"))
	assert.False(t, n.firstSeen("a"))

	time.Sleep(80 * time.Millisecond)
	n.forget()
	assert.Empty(t, n.seen)
	assert.True(t, n.firstSeen("a"))
}

func TestNATSInvalidatorRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL не задан")
	}

	a, err := NewNATSInvalidator(&InvalidatorConfig{NATSURL: url, Subject: "worldcache.test." + t.Name()}, "a")
	if err != nil {
		t.Skipf("NATS недоступен: %v", err)
	}
	defer a.Close()
	b, err := NewNATSInvalidator(&InvalidatorConfig{NATSURL: url, Subject: "worldcache.test." + t.Name()}, "b")
	require.NoError(t, err)
	defer b.Close()

	keys := make(chan string, 1)
	require.NoError(t, b.SubscribeInvalidations(context.Background(), func(key string) error {
		keys <- key
		return nil
	}))
	require.NoError(t, b.conn.Flush())

	require.NoError(t, a.PublishInvalidation(context.Background(), "overworld:3:-4"))
	select {
	case key := <-keys:
		assert.Equal(t, "overworld:3:-4", key)
	case <-time.After(2 * time.Second):
		t.Fatal("уведомление не получено")
	}
}
