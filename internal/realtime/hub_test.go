package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubRoutesByUser(t *testing.T) {
	h := NewHub()
	alice, bob := uuid.New(), uuid.New()

	aliceCh, cancelAlice := h.Subscribe(alice)
	defer cancelAlice()
	bobCh, cancelBob := h.Subscribe(bob)
	defer cancelBob()

	h.Publish(alice, Event{Type: MessageCreated, Message: &models.Message{ID: 7}})

	select {
	case ev := <-aliceCh:
		assert.Equal(t, MessageCreated, ev.Type)
		assert.Equal(t, int64(7), ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("alice got nothing")
	}
	select {
	case ev := <-bobCh:
		t.Fatalf("bob got %v", ev)
	default:
	}
}

func TestHubCancelClosesAndForgets(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	ch, cancel := h.Subscribe(user)
	assert.Equal(t, 1, h.Subscribers(user))

	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers(user))

	// Publishing after everyone left is a no-op.
	h.Publish(user, Event{Type: MessageUpdated})
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	ch, cancel := h.Subscribe(user)
	defer cancel()

	for i := 0; i < streamBuffer+10; i++ {
		h.Publish(user, Event{Type: MessageCreated})
	}
	assert.Len(t, ch, streamBuffer)
}

func TestServeStreamsEvents(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, user, zap.NewNop())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Subscribers(user) == 1 }, time.Second, 10*time.Millisecond)
	h.Publish(user, Event{Type: MessageCreated, Message: &models.Message{ID: 42, Content: "hi"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, MessageCreated, ev.Type)
	assert.Equal(t, "hi", ev.Message.Content)
}
