package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/wearlytics/telemetry-ingest/internal/api/v1"
	httperr "github.com/wearlytics/telemetry-ingest/internal/core/errors"
	"github.com/wearlytics/telemetry-ingest/internal/core/storage"
	"github.com/wearlytics/telemetry-ingest/internal/metrics"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgEventsNotList  = "Body must include list of events"
	msgBatchAborted   = "Failed to persist batch"
)

// batchRequest is the ingestion envelope. Events stay raw until per-event
// processing so the validator sees exactly what the producer sent.
type batchRequest struct {
	Events []json.RawMessage `json:"events"`
}

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for batch event ingestion.
//
// Per-event state machine: received -> normalized -> validated|rejected ->
// written(accepted|deduped). Rejected events are terminal but never abort
// sibling events; storage errors abort and roll back the whole batch.
func (s *Service) IngestHandler(c *gin.Context) {
	req, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	tally, err := s.processBatch(c.Request.Context(), req.Events)
	if err != nil {
		writeError(c, err)
		return
	}

	// Merge into the shared counters only after the transaction committed,
	// so the register never reports writes that could still roll back.
	s.register.Add(tally)

	slog.Info("batch_ingested",
		"received", tally.Received,
		"accepted", tally.Accepted,
		"rejected", tally.Rejected,
		"deduped", tally.Deduped)

	c.JSON(http.StatusOK, tally)
}

// MetricsHandler returns the process-lifetime counter snapshot.
func (s *Service) MetricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.register.Snapshot())
}

// parseBatch reads the size-limited request body and binds the batch envelope.
// A missing or non-list "events" field is a client error, rejected before any
// per-event processing.
func (s *Service) parseBatch(c *gin.Context) (*batchRequest, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	// Absent and null both decode to a nil slice; an empty list stays non-nil
	// and is a valid (all-zero) batch.
	if req.Events == nil {
		slog.Warn("Batch envelope missing events list")
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidBatchError,
			message:    msgEventsNotList,
		}
	}

	return &req, nil
}

// processBatch runs every event through the pipeline inside one transaction.
// Rejections are tallied and logged per event; the first storage error rolls
// back everything written so far and surfaces as a server error so producers
// can retry the whole batch (idempotency makes the retry safe).
func (s *Service) processBatch(ctx context.Context, rawEvents []json.RawMessage) (metrics.Tally, *ingestionError) {
	tx, err := s.store.BeginBatch(ctx)
	if err != nil {
		slog.Error("Failed to begin batch transaction", "error", err)
		return metrics.Tally{}, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpBatchAbortedError,
			message:    msgBatchAborted,
		}
	}

	tally := metrics.Tally{Received: uint64(len(rawEvents))}

	for _, raw := range rawEvents {
		// A null element unmarshals into a nil map without error; both cases
		// are the same per-event rejection.
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			tally.Rejected++
			logRejected(nil, []string{"event must be a JSON object"})
			continue
		}

		StampServerTS(obj, time.Now())

		if violations := s.validator.Validate(obj); len(violations) > 0 {
			tally.Rejected++
			messages := make([]string, len(violations))
			for i, v := range violations {
				messages[i] = v.String()
			}
			logRejected(obj, messages)
			continue
		}

		evt, err := v1.FromObject(obj)
		if err != nil {
			tally.Rejected++
			logRejected(obj, []string{err.Error()})
			continue
		}

		outcome, err := tx.InsertEvent(ctx, evt)
		if err != nil {
			slog.Error("Batch aborted by storage error", "error", err, "event_id", evt.EventID)
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("Failed to roll back batch", "error", rbErr)
			}
			return metrics.Tally{}, &ingestionError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpBatchAbortedError,
				message:    msgBatchAborted,
			}
		}

		switch outcome {
		case storage.OutcomeInserted:
			tally.Accepted++
		case storage.OutcomeDuplicate:
			tally.Deduped++
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("Failed to commit batch", "error", err)
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("Failed to roll back batch", "error", rbErr)
		}
		return metrics.Tally{}, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpBatchAbortedError,
			message:    msgBatchAborted,
		}
	}

	return tally, nil
}

// logRejected emits the one structured log line per rejected event, with the
// machine-readable violation list. obj may be nil when the element was not an
// object at all.
func logRejected(obj map[string]interface{}, errors []string) {
	var eventID, eventName interface{}
	if obj != nil {
		eventID = obj["event_id"]
		eventName = obj["event_name"]
	}
	slog.Warn("event_rejected",
		"event_id", eventID,
		"event_name", eventName,
		"errors", errors)
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
