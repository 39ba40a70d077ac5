package ssh

import (
	"encoding/json"
	"time"

	"androidssh/internal/logger"
)

type EventType string

const (
	EventConnecting      EventType = "connecting"
	EventConnected       EventType = "connected"
	EventConnectFailed   EventType = "connect_failed"
	EventReconnecting    EventType = "reconnecting"
	EventDisconnected    EventType = "disconnected"
	EventTransportLost   EventType = "transport_lost"
	EventCommandStarted  EventType = "command_started"
	EventCommandFinished EventType = "command_finished"
	EventCommandTimeout  EventType = "command_timeout"
	EventCommandFailed   EventType = "command_failed"
)

// Event describes a session lifecycle or command execution step. It never
// carries credentials.
type Event struct {
	Type        EventType `json:"event"`
	Time        time.Time `json:"time"`
	SessionID   string    `json:"session_id,omitempty"`
	Host        string    `json:"host,omitempty"`
	User        string    `json:"user,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Command     string    `json:"command,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type EventListener func(Event)

// LogEvents writes each event as one JSON line through the logger.
func LogEvents(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Error("Failed to encode %s event: %v", e.Type, err)
		return
	}

	switch e.Type {
	case EventConnectFailed, EventTransportLost, EventCommandTimeout, EventCommandFailed:
		logger.Warn("%s", data)
	case EventCommandStarted, EventCommandFinished:
		logger.Debug("%s", data)
	default:
		logger.Info("%s", data)
	}
}

// OnEvent registers a listener. Listeners run synchronously on the goroutine
// that produced the event and must not call back into the Manager.
func (m *Manager) OnEvent(listener EventListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *Manager) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	e.Host = logger.Sanitize(e.Host)
	e.User = logger.Sanitize(e.User)
	e.Command = logger.Sanitize(e.Command)

	m.listenersMu.RLock()
	listeners := make([]EventListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}
