package collab

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

const defaultSendBuffer = 64

// ErrAlreadyAttached indicates a connection id that already owns a stream.
var ErrAlreadyAttached = errors.New("collab: connection already attached")

// Dispatcher owns the outbound stream of every live connection. Delivery never
// blocks: a full stream drops the frame so a slow client cannot stall the hub.
type Dispatcher struct {
	mu         sync.RWMutex
	streams    map[string]chan Outbound
	bufferSize int
	logger     *zap.Logger
}

// NewDispatcher constructs a dispatcher with per-connection buffers of bufferSize frames.
func NewDispatcher(bufferSize int, logger *zap.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		streams:    make(map[string]chan Outbound),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Attach opens the stream for a connection.
func (d *Dispatcher) Attach(connectionID string) (<-chan Outbound, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.streams[connectionID]; ok {
		return nil, ErrAlreadyAttached
	}
	stream := make(chan Outbound, d.bufferSize)
	d.streams[connectionID] = stream
	return stream, nil
}

// Detach closes the connection's stream. Detaching twice is a no-op.
func (d *Dispatcher) Detach(connectionID string) {
	d.mu.Lock()
	stream, ok := d.streams[connectionID]
	if ok {
		delete(d.streams, connectionID)
		close(stream)
	}
	d.mu.Unlock()
}

// Deliver queues the frame for one connection and reports whether it was queued.
func (d *Dispatcher) Deliver(connectionID string, message Outbound) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stream, ok := d.streams[connectionID]
	if !ok {
		return false
	}
	select {
	case stream <- message:
		return true
	default:
		droppedFramesTotal.WithLabelValues(message.Event).Inc()
		d.logger.Warn("dropping outbound frame",
			zap.String("connection_id", connectionID),
			zap.String("event", message.Event),
		)
		return false
	}
}

// DeliverAll queues the frame for each listed connection.
func (d *Dispatcher) DeliverAll(connectionIDs []string, message Outbound) {
	for _, id := range connectionIDs {
		d.Deliver(id, message)
	}
}

// Len returns the number of attached connections.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.streams)
}
