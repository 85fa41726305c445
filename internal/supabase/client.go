package supabase

import (
	"fmt"

	"github.com/supabase-community/supabase-go"

	"studio-ingest/internal/config"
)

// Client bundles the Supabase services the backend talks to.
type Client struct {
	Supabase *supabase.Client
	Config   *config.Config
}

func NewClient(cfg *config.Config) (*Client, error) {
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		Supabase: client,
		Config:   cfg,
	}, nil
}

func (c *Client) Realtime() *RealtimeClient {
	return NewRealtimeClient(c.Supabase)
}

func (c *Client) Storage() (*StorageClient, error) {
	return NewStorageClient(c.Config.SupabaseURL, c.Config.SupabaseServiceKey, c.Config.SupabaseStorageBucket)
}
