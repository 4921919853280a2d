// Package notification posts operational alerts to a configured webhook.
// The daemon feeds it from the event hub so drift findings and failed
// applies reach an operator who is not watching the event stream.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"grimm.is/palisade/internal/logging"
)

// Alert severity levels, in ascending order.
const (
	LevelInfo     = "info"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Notification is one alert on its way to the webhook.
type Notification struct {
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Dispatcher posts notifications at or above a minimum level to a
// webhook URL.
type Dispatcher struct {
	url      string
	minLevel string
	client   *http.Client
	log      *logging.Logger
}

// NewDispatcher creates a dispatcher for url. minLevel filters out
// quieter alerts; empty means warning.
func NewDispatcher(url, minLevel string, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.Default().WithComponent("notification")
	}
	if minLevel == "" {
		minLevel = LevelWarning
	}
	return &Dispatcher{
		url:      url,
		minLevel: minLevel,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// MinLevel reports the effective delivery threshold.
func (d *Dispatcher) MinLevel() string {
	return d.minLevel
}

// Send posts one notification. Delivery failures are logged, not
// returned: an unreachable webhook must never block the daemon.
func (d *Dispatcher) Send(n Notification) {
	if !levelAtLeast(n.Level, d.minLevel) {
		return
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	if err := d.post(n); err != nil {
		d.log.Error("notification delivery failed", "title", n.Title, "error", err)
	}
}

func (d *Dispatcher) post(n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// levelAtLeast reports whether level meets the min threshold. Unknown
// levels rank below info.
func levelAtLeast(level, min string) bool {
	ranks := map[string]int{
		LevelInfo:     1,
		LevelWarning:  2,
		LevelCritical: 3,
	}
	return ranks[strings.ToLower(level)] >= ranks[strings.ToLower(min)]
}
