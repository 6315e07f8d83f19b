package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/kbchat-ai/kbchat/engine/domain"
	"github.com/kbchat-ai/kbchat/pkg/natsutil"
)

const (
	// Subject carries incoming entry batches for async ingestion.
	Subject = "kbchat.ingest"
	// DLQSubject is the dead letter queue for batches that keep failing.
	DLQSubject = "kbchat.ingest.dlq"
	// MaxRetries before a batch goes to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// Batch is the wire format for async ingestion.
type Batch struct {
	Entries []domain.Entry `json:"entries"`
}

// DLQMessage is published to the DLQ on repeated failure.
type DLQMessage struct {
	Batch   Batch  `json:"batch"`
	Error   string `json:"error"`
	Retries int    `json:"retries"`
}

// StartConsumer subscribes to the ingest subject and runs each batch through
// the pipeline, with bounded retries and a DLQ. All-duplicate batches are a
// success, same as on the HTTP path.
func StartConsumer(nc *nats.Conn, svc *Service, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var batch Batch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			logger.Error("ingest: unmarshal batch failed", "err", err)
			return
		}

		ctx := context.Background()

		retries, err := retryCount(msg.Header)
		if err != nil {
			// A garbled counter must not reset the loop; treat the batch as
			// out of retries so it parks on the DLQ.
			logger.Error("ingest: bad retry count header", "err", err)
			retries = MaxRetries
		}

		report, err := svc.Run(ctx, batch.Entries)
		if err != nil {
			retries++
			logger.Error("ingest: batch failed", "err", err, "entries", len(batch.Entries), "retry", retries)

			if retries >= MaxRetries {
				dlq := DLQMessage{Batch: batch, Error: err.Error(), Retries: retries}
				if pubErr := natsutil.Publish(ctx, nc, DLQSubject, dlq); pubErr != nil {
					logger.Error("ingest: DLQ publish failed", "err", pubErr)
				}
			} else {
				retryMsg := nats.NewMsg(Subject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set(retryHeader, strconv.Itoa(retries))
				if pubErr := nc.PublishMsg(retryMsg); pubErr != nil {
					logger.Error("ingest: retry publish failed", "err", pubErr)
				}
			}
		} else {
			logger.Info("ingest: batch done", "added", report.AddedCount, "duplicates", report.DuplicateCount)
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

// retryCount reads the retry counter from message headers. A missing header
// is attempt zero.
func retryCount(h nats.Header) (int, error) {
	if h == nil {
		return 0, nil
	}
	v := h.Get(retryHeader)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("ingest: parse %s %q: %w", retryHeader, v, err)
	}
	return n, nil
}
