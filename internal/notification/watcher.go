package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"grimm.is/palisade/internal/events"
)

// Watcher subscribes to the event hub and turns noteworthy events into
// notifications: drift findings and reconciliations that left failures.
type Watcher struct {
	hub  *events.Hub
	disp *Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher wires a dispatcher to the hub.
func NewWatcher(hub *events.Hub, disp *Dispatcher) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		hub:    hub,
		disp:   disp,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins consuming events.
func (w *Watcher) Start() {
	ch := w.hub.Subscribe(64, events.EventDriftDetected, events.EventApplyCompleted)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ctx.Done():
				w.hub.Unsubscribe(ch)
				return
			case e := <-ch:
				if n, ok := translate(e); ok {
					w.disp.Send(n)
				}
			}
		}
	}()
}

// Stop shuts down the consumer.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

// translate maps an event to a notification. Clean applies produce
// nothing; only outcomes an operator should hear about pass through.
func translate(e events.Event) (Notification, bool) {
	switch e.Type {
	case events.EventDriftDetected:
		data, ok := e.Data.(events.DriftData)
		if !ok {
			return Notification{}, false
		}
		msg := fmt.Sprintf("Live chains differ from stored rules (%d chains checked).", data.Checked)
		if len(data.Missing) > 0 {
			msg += " Missing: " + strings.Join(data.Missing, ", ") + "."
		}
		return Notification{
			Title:     "Firewall drift detected",
			Message:   msg,
			Level:     LevelWarning,
			Timestamp: e.Timestamp,
			Data: map[string]interface{}{
				"checked_chains": data.Checked,
				"missing_chains": data.Missing,
			},
		}, true

	case events.EventApplyCompleted:
		data, ok := e.Data.(events.ApplyData)
		if !ok || data.OK {
			return Notification{}, false
		}
		return Notification{
			Title: "Rule apply left failures",
			Message: fmt.Sprintf("%d of %d rules failed to apply (trigger: %s).",
				data.Failed, data.RuleCount, data.Trigger),
			Level:     LevelCritical,
			Timestamp: e.Timestamp,
			Data: map[string]interface{}{
				"failed":     data.Failed,
				"rule_count": data.RuleCount,
				"trigger":    data.Trigger,
			},
		}, true
	}
	return Notification{}, false
}
