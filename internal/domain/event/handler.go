package event

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/terabox-downloader/internal/domain"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case SessionStatusChanged:
		h.logTransition(e)
	case SessionProgressed:
		// too chatty for anything but debug
		h.logger.Debug("session progressed",
			zap.String("session_id", e.SessionID),
			zap.Int64("bytes_done", e.BytesDone),
			zap.Int64("total_bytes", e.TotalBytes),
		)
	case BatchStarted:
		h.logger.Info("batch started",
			zap.String("batch_id", e.BatchID),
			zap.Int("files", e.TotalFiles),
			zap.String("total_size", humanize.IBytes(uint64(e.TotalBytes))),
		)
	case BatchCompleted:
		h.logger.Info("batch completed",
			zap.String("batch_id", e.Summary.BatchID),
			zap.Int("completed", e.Summary.Completed),
			zap.Int("failed", e.Summary.Failed),
			zap.Int("cancelled", e.Summary.Cancelled),
			zap.String("downloaded", humanize.IBytes(uint64(e.Summary.BytesDone))),
			zap.Duration("elapsed", e.Summary.Elapsed),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

func (h *LoggingHandler) logTransition(e SessionStatusChanged) {
	fields := []zap.Field{
		zap.String("session_id", e.SessionID),
		zap.String("path", e.Path),
		zap.String("from", string(e.From)),
		zap.String("to", string(e.To)),
		zap.Int("attempt", e.Attempt),
	}

	switch {
	case e.To == domain.SessionStatusCompleted:
		h.logger.Info("file downloaded", append(fields,
			zap.String("size", humanize.IBytes(uint64(e.Size))),
			zap.String("backend", string(e.Backend)),
			zap.Duration("duration", e.Duration),
		)...)
	case e.To == domain.SessionStatusPending && e.ErrorKind != domain.ErrorKindNone:
		h.logger.Warn("transfer failed, retry scheduled", append(fields,
			zap.String("error_kind", e.ErrorKind.String()),
			zap.String("error", e.Error),
			zap.Duration("retry_in", e.RetryIn),
		)...)
	case e.To == domain.SessionStatusFailed && e.ErrorKind == domain.ErrorKindCancelled:
		h.logger.Info("transfer cancelled", fields...)
	case e.To == domain.SessionStatusFailed:
		h.logger.Warn("transfer failed", append(fields,
			zap.String("error_kind", e.ErrorKind.String()),
			zap.String("error", e.Error),
		)...)
	default:
		h.logger.Debug("session status changed", fields...)
	}
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// HandlerFunc adapts a function to EventHandler for the given event names
type HandlerFunc struct {
	Names []string
	Fn    func(DomainEvent)
}

// Handle calls the wrapped function
func (h *HandlerFunc) Handle(event DomainEvent) error {
	h.Fn(event)
	return nil
}

// HandledEvents returns the configured event names
func (h *HandlerFunc) HandledEvents() []string {
	return h.Names
}
