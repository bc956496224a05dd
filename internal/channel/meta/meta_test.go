package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGraph struct {
	srv  *httptest.Server
	sent []map[string]any
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{}
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
		write(w, map[string]any{"data": []any{map[string]any{"id": "PAGE", "access_token": "page-token"}}})
	})
	mux.HandleFunc("/PAGE", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"instagram_business_account": map[string]any{"id": "IG"}})
	})
	mux.HandleFunc("/PAGE/conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer page-token", r.Header.Get("Authorization"))
		if r.URL.Query().Get("after") == "" {
			write(w, map[string]any{
				"data":   []any{map[string]any{"id": "C1", "participants": map[string]any{"data": []any{map[string]any{"id": "PAGE"}, map[string]any{"id": "PSID1", "name": "Ann"}}}}},
				"paging": map[string]any{"next": f.srv.URL + "/PAGE/conversations?after=x"},
			})
			return
		}
		write(w, map[string]any{
			"data": []any{map[string]any{"id": "C2", "participants": map[string]any{"data": []any{map[string]any{"id": "PSID2", "name": "Bob"}}}}},
		})
	})
	mux.HandleFunc("/C1/messages", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": []any{
			map[string]any{"id": "m1", "from": map[string]any{"id": "PSID1", "name": "Ann"}, "message": "hi", "created_time": "2025-01-02T03:04:05+0000"},
			map[string]any{"id": "m2", "from": map[string]any{"id": "PAGE"}, "message": "hello Ann", "created_time": "2025-01-02T03:05:00+0000"},
		}})
	})
	mux.HandleFunc("/C2/messages", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"data": []any{
			map[string]any{"id": "m3", "from": map[string]any{"id": "PSID2", "name": "Bob"}, "message": "", "created_time": "2025-01-03T00:00:00+0000",
				"attachments": map[string]any{"data": []any{map[string]any{"image_data": map[string]any{"url": "https://cdn/x.png"}}}}},
		}})
	})
	mux.HandleFunc("/PAGE/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.sent = append(f.sent, body)
		write(w, map[string]any{"recipient_id": "PSID1", "message_id": "mid.1"})
	})
	mux.HandleFunc("/IG/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		write(w, map[string]any{"error": map[string]any{"message": "(#10) outside allowed window", "code": 10}})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newGraph(f *fakeGraph) *Graph {
	return NewGraph(config.MetaConfig{AccessToken: "user-token", GraphURL: f.srv.URL}, time.Second)
}

func TestFacebookFetchFollowsPaging(t *testing.T) {
	f := newFakeGraph(t)
	a := NewFacebook(newGraph(f), zap.NewNop())

	msgs, err := a.FetchMessages(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "m1", msgs[0].ExternalID)
	assert.Equal(t, "PSID1", msgs[0].SenderID)
	assert.Equal(t, "Ann", msgs[0].SenderName)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), msgs[0].Timestamp.UTC())

	assert.Equal(t, models.DirectionOutbound, msgs[1].Direction)
	assert.Equal(t, "PSID1", msgs[1].SenderID, "page messages belong to the other participant")

	assert.Equal(t, []string{"https://cdn/x.png"}, msgs[2].MediaURLs)
}

func TestFetchStopsAtLimit(t *testing.T) {
	f := newFakeGraph(t)
	a := NewFacebook(newGraph(f), zap.NewNop())

	msgs, err := a.FetchMessages(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestFacebookSend(t *testing.T) {
	f := newFakeGraph(t)
	a := NewFacebook(newGraph(f), zap.NewNop())

	res := a.Send(context.Background(), channel.SendParams{To: "PSID1", Content: "thanks", MediaURLs: []string{"https://cdn/y.png"}})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "mid.1", res.MessageID)

	require.Len(t, f.sent, 2)
	assert.Equal(t, map[string]any{"id": "PSID1"}, f.sent[0]["recipient"])
	assert.Equal(t, map[string]any{"text": "thanks"}, f.sent[0]["message"])
	assert.Contains(t, f.sent[1]["message"], "attachment")
}

func TestInstagramSendSurfacesGraphError(t *testing.T) {
	f := newFakeGraph(t)
	a := NewInstagram(newGraph(f), zap.NewNop())

	res := a.Send(context.Background(), channel.SendParams{To: "IGSID", Content: "hi"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "outside allowed window")
}

func TestNotConfigured(t *testing.T) {
	a := NewFacebook(NewGraph(config.MetaConfig{}, time.Second), zap.NewNop())
	_, err := a.FetchMessages(context.Background(), 10)
	assert.ErrorIs(t, err, channel.ErrNotConfigured)
	assert.False(t, a.Send(context.Background(), channel.SendParams{To: "x", Content: "y"}).Success)
}
