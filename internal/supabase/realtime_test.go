package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/supabase-community/supabase-go"

	"studio-ingest/internal/store"
)

func TestRealtimeClient_PublishInsertsEventRow(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/"+EventsTable) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client, err := supabase.NewClient(srv.URL, "service-key", nil)
	require.NoError(t, err)

	projectID, batchID := uuid.New(), uuid.New()
	err = NewRealtimeClient(client).Publish(context.Background(), store.Event{
		Type:      store.EventBatchCompleted,
		OwnerID:   uuid.New(),
		ProjectID: projectID,
		BatchID:   batchID,
		Payload:   map[string]interface{}{"status": "completed", "asset_count": 3},
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, store.EventBatchCompleted, got["type"])
	assert.Equal(t, ProjectChannel(projectID), got["channel"])
	assert.Equal(t, batchID.String(), got["batch_id"])
	payload, ok := got["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", payload["status"])
	assert.EqualValues(t, 3, payload["asset_count"])
}

func TestRealtimeClient_PublishHonoursCancelledContext(t *testing.T) {
	client, err := supabase.NewClient("http://127.0.0.1:1", "service-key", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewRealtimeClient(client).Publish(ctx, store.Event{Type: store.EventBatchCreated})
	assert.ErrorIs(t, err, context.Canceled)
}
