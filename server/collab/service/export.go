package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"

	"taskhub/server/collab/repository"
	commonlog "taskhub/server/common/log"
)

const exportLimit = 200

// Exporter renders a user's notifications as a downloadable JSON or CSV
// document, optionally archived to object storage instead of streamed
// inline.
type Exporter struct {
	notifications repository.NotificationStore
	object        *minio.Client
	bucket        string
}

func NewExporter(notifications repository.NotificationStore, object *minio.Client, bucket string) *Exporter {
	return &Exporter{notifications: notifications, object: object, bucket: bucket}
}

func (e *Exporter) Export(ctx context.Context, userID, format string) (filename, contentType string, data []byte, err error) {
	items, err := e.notifications.ListByUser(ctx, userID, repository.NotificationFilter{Limit: exportLimit})
	if err != nil {
		return "", "", nil, err
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	switch format {
	case "json":
		data, err = json.MarshalIndent(items, "", "  ")
		if err != nil {
			return "", "", nil, err
		}
		return fmt.Sprintf("notifications_%s.json", stamp), "application/json", data, nil
	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "kind", "title", "message", "priority", "link", "read", "read_at", "email_sent", "push_sent", "created_at"})
		for _, n := range items {
			readAt := ""
			if n.ReadAt != nil {
				readAt = n.ReadAt.Format(time.RFC3339)
			}
			_ = w.Write([]string{
				n.ID,
				string(n.Kind),
				n.Title,
				n.Message,
				string(n.Priority),
				n.Link,
				strconv.FormatBool(n.Read),
				readAt,
				strconv.FormatBool(n.EmailSent),
				strconv.FormatBool(n.PushSent),
				n.CreatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return "", "", nil, err
		}
		return fmt.Sprintf("notifications_%s.csv", stamp), "text/csv", buf.Bytes(), nil
	default:
		return "", "", nil, errors.New("format must be json or csv")
	}
}

// Archive uploads the export to the configured bucket and returns a
// presigned URL valid for a day.
func (e *Exporter) Archive(ctx context.Context, userID, format string) (string, error) {
	if e.object == nil {
		return "", errors.New("archive storage is not configured")
	}
	filename, contentType, data, err := e.Export(ctx, userID, format)
	if err != nil {
		return "", err
	}

	objectName := fmt.Sprintf("exports/%s/%s", userID, filename)
	_, err = e.object.PutObject(ctx, e.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	commonlog.Infof("event=export action=archive status=ok user_id=%s object=%s size=%d", userID, objectName, len(data))

	u, err := e.object.PresignedGetObject(ctx, e.bucket, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign export: %w", err)
	}
	return u.String(), nil
}
