package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"

	"studio-ingest/internal/store"
)

// EventsTable is replicated through Supabase Realtime, so inserting a row is
// what broadcasts an event to subscribed clients.
const EventsTable = "ingest_events"

// RealtimeClient is a store.EventPublisher.
type RealtimeClient struct {
	client *supabase.Client
}

func NewRealtimeClient(client *supabase.Client) *RealtimeClient {
	return &RealtimeClient{
		client: client,
	}
}

type eventRow struct {
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel"`
	OwnerID   string                 `json:"owner_id"`
	ProjectID string                 `json:"project_id"`
	BatchID   *string                `json:"batch_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

func (r *RealtimeClient) Publish(ctx context.Context, e store.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row := eventRow{
		Type:      e.Type,
		Channel:   ProjectChannel(e.ProjectID),
		OwnerID:   e.OwnerID.String(),
		ProjectID: e.ProjectID.String(),
		Payload:   e.Payload,
		CreatedAt: e.At,
	}
	if e.BatchID != uuid.Nil {
		id := e.BatchID.String()
		row.BatchID = &id
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.Payload == nil {
		row.Payload = map[string]interface{}{}
	}

	if _, _, err := r.client.From(EventsTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}
	return nil
}

func ProjectChannel(projectID uuid.UUID) string {
	return fmt.Sprintf("project:%s", projectID.String())
}
