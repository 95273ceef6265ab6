// Package notify posts new-entry and new-chapter events to an optional
// webhook. Sends are async and fire-and-forget; a dead webhook never slows
// or fails the crawl.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Notifier sends crawl events to a webhook endpoint.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// New creates a notifier. An empty URL returns nil; every method on a nil
// notifier is a no-op.
func New(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// NotifyNewEntry announces a newly discovered catalog entry.
func (n *Notifier) NotifyNewEntry(param, title string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload := map[string]interface{}{
			"event": "new_entry",
			"param": param,
			"title": title,
		}
		if err := n.send(ctx, payload); err != nil {
			log.Printf("[Notifier] Failed to send new entry event for %s: %v", param, err)
		}
	}()
}

// NotifyNewChapter announces a newly persisted chapter.
func (n *Notifier) NotifyNewChapter(entryParam, chapterParam, label string) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		payload := map[string]interface{}{
			"event":   "new_chapter",
			"param":   entryParam,
			"chapter": chapterParam,
			"label":   label,
		}
		if err := n.send(ctx, payload); err != nil {
			log.Printf("[Notifier] Failed to send chapter event for %s/%s: %v", entryParam, chapterParam, err)
		}
	}()
}

func (n *Notifier) send(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
