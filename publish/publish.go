// Package publish delivers fresh snapshots to downstream consumers.
package publish

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/models"
)

// EventSnapshot is the event type of every published snapshot.
const EventSnapshot = "snapshot.updated"

// Publisher is one snapshot consumer.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snap *models.Snapshot) error
}

// Event is the payload sent to every consumer.
type Event struct {
	Type      string           `json:"type"`
	Timestamp int64            `json:"timestamp"` // unix millis of the snapshot
	Data      *models.Snapshot `json:"data"`
}

// NewEvent wraps snap in an event envelope.
func NewEvent(snap *models.Snapshot) *Event {
	return &Event{
		Type:      EventSnapshot,
		Timestamp: snap.Timestamp.UnixMilli(),
		Data:      snap,
	}
}

func encode(snap *models.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("publish: nil snapshot")
	}
	body, err := json.Marshal(NewEvent(snap))
	if err != nil {
		return nil, fmt.Errorf("publish: marshal event: %w", err)
	}
	return body, nil
}

// FromConfig builds every consumer enabled in cfg. The returned close
// function releases their connections.
func FromConfig(cfg config.PublishConfig) ([]Publisher, func(), error) {
	var (
		pubs    []Publisher
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.NATSURL != "" {
		n, err := DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, closeAll, err
		}
		pubs = append(pubs, n)
		closers = append(closers, n.Close)
	}
	if cfg.WebhookURL != "" {
		pubs = append(pubs, NewWebhook(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return pubs, closeAll, nil
}
