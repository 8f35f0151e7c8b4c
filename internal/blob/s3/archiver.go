package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/swapbot/internal/domain"
)

// multipartThreshold is the archive size above which uploads switch to the
// multipart uploader.
const multipartThreshold = 64 * 1024 * 1024

// OrderArchiver writes each UTC day's finalized orders to object storage as
// one JSONL file at archive/orders/YYYY/MM/DD.jsonl. Orders stay in the
// primary store; archiving only copies them.
type OrderArchiver struct {
	orders domain.OrderStore
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Archiver = (*OrderArchiver)(nil)

// NewOrderArchiver creates an OrderArchiver. reader and audit may be nil.
func NewOrderArchiver(
	orders domain.OrderStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OrderArchiver {
	return &OrderArchiver{
		orders: orders,
		writer: writer,
		reader: reader,
		audit:  audit,
		now:    time.Now,
		logger: logger.With(slog.String("component", "order_archiver")),
	}
}

// ArchiveOrders uploads the orders finalized on the UTC day containing day
// and returns how many were written. A day whose file already exists is
// skipped, and an empty day writes nothing.
func (a *OrderArchiver) ArchiveOrders(ctx context.Context, day time.Time) (int64, error) {
	from := truncateDay(day)
	to := from.AddDate(0, 0, 1)
	path := archivePath(from)

	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: check archive %s: %w", path, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "archive already present", slog.String("path", path))
			return 0, nil
		}
	}

	orders, err := a.orders.ListFinalizedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list finalized orders: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal orders: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: upload archive: %w", err)
	}

	count := int64(len(orders))
	a.logger.InfoContext(ctx, "orders archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.orders", map[string]any{
			"path":  path,
			"count": count,
			"day":   from.Format(time.DateOnly),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit archive failed", slog.String("error", err.Error()))
		}
	}
	return count, nil
}

// Run archives the previous UTC day every interval until ctx is cancelled.
func (a *OrderArchiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.ArchiveOrders(ctx, a.now().UTC().AddDate(0, 0, -1)); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func archivePath(day time.Time) string {
	return "archive/orders/" + day.Format("2006/01/02") + ".jsonl"
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
