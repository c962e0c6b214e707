// Package archive mirrors persisted message batches into optional cold
// storage sinks. Sinks buffer internally and drop on overflow; the primary
// store remains the source of truth.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"go.opentelemetry.io/otel"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

var tracer = otel.Tracer("archive")

// BQRecord is the flattened message row written to BigQuery.
type BQRecord struct {
	MessageID      string            `bigquery:"message_id"`
	ChannelID      string            `bigquery:"channel_id"`
	GuildID        string            `bigquery:"guild_id"`
	AuthorID       string            `bigquery:"author_id"`
	AuthorUsername string            `bigquery:"author_username"`
	MessageType    string            `bigquery:"message_type"`
	Content        string            `bigquery:"content"`
	Attachments    bigquery.NullJSON `bigquery:"attachments"`
	Embeds         bigquery.NullJSON `bigquery:"embeds"`
	CreatedAt      time.Time         `bigquery:"created_at"`
	LoggedAt       time.Time         `bigquery:"logged_at"`
	IsBackfilled   bool              `bigquery:"is_backfilled"`
}

// BigQuery streams message rows into a dated table, one table per day.
type BigQuery struct {
	logger       *slog.Logger
	recordSchema bigquery.Schema
	client       *bigquery.Client
	dataset      *bigquery.Dataset

	tablePrefix string

	tableDate string
	inserter  *bigquery.Inserter

	recordBuf chan *BQRecord
}

func NewBigQuery(ctx context.Context, logger *slog.Logger, projectID, dataset, tablePrefix string) (*BigQuery, error) {
	recordSchema, err := bigquery.InferSchema(BQRecord{})
	if err != nil {
		return nil, fmt.Errorf("failed to infer schema: %w", err)
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}

	ds := client.Dataset(dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		return nil, fmt.Errorf("failed to get dataset metadata, make sure to create it if it doesn't exist: %w", err)
	}

	bq := &BigQuery{
		logger:       logger.With("component", "archive_bq"),
		recordSchema: recordSchema,
		client:       client,
		dataset:      ds,
		tablePrefix:  tablePrefix,
		recordBuf:    make(chan *BQRecord, 100_000),
	}

	// Batch insert buffered records every 5 seconds.
	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := bq.insertRecords(ctx); err != nil {
					bq.logger.Error("failed to insert records", "err", err)
				}
			}
		}
	}()

	return bq, nil
}

// Enqueue buffers a message batch for insertion. Overflow drops the record
// rather than blocking the flush path.
func (bq *BigQuery) Enqueue(msgs []*models.Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		select {
		case bq.recordBuf <- bqRecordFrom(m):
			recordsEnqueued.WithLabelValues("bigquery").Inc()
			queueDepth.WithLabelValues("bigquery").Inc()
		default:
			recordsDropped.WithLabelValues("bigquery").Inc()
		}
	}
}

func bqRecordFrom(m *models.Message) *BQRecord {
	rec := &BQRecord{
		MessageID:      m.MessageID,
		ChannelID:      m.ChannelID,
		AuthorID:       m.AuthorID,
		AuthorUsername: m.AuthorUsername,
		MessageType:    string(m.MessageType),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		LoggedAt:       m.LoggedAt,
		IsBackfilled:   m.IsBackfilled,
	}
	if m.GuildID != nil {
		rec.GuildID = *m.GuildID
	}
	if len(m.Attachments) > 0 {
		if raw, err := json.Marshal(m.Attachments); err == nil {
			rec.Attachments = bigquery.NullJSON{JSONVal: string(raw), Valid: true}
		}
	}
	if len(m.Embeds) > 0 {
		if raw, err := json.Marshal(m.Embeds); err == nil {
			rec.Embeds = bigquery.NullJSON{JSONVal: string(raw), Valid: true}
		}
	}
	return rec
}

func (bq *BigQuery) insertRecords(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "insertRecords")
	defer span.End()

	if err := bq.createTableIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	batchSize := 10_000
	records := make([]*BQRecord, 0, batchSize)
drain:
	for i := 0; i < batchSize; i++ {
		select {
		case record := <-bq.recordBuf:
			records = append(records, record)
			queueDepth.WithLabelValues("bigquery").Dec()
		default:
			break drain
		}
	}

	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		batchSubmissionDuration.WithLabelValues("bigquery").Observe(float64(elapsed.Milliseconds()))
		batchSizeHist.WithLabelValues("bigquery").Observe(float64(len(records)))
	}()

	if err := bq.inserter.Put(ctx, records); err != nil {
		return fmt.Errorf("failed to insert records: %w", err)
	}

	return nil
}

func (bq *BigQuery) createTableIfNotExists(ctx context.Context) error {
	today := time.Now().Format("20060102")

	if bq.tableDate == today && bq.inserter != nil {
		return nil
	}

	table := bq.dataset.Table(fmt.Sprintf("%s_%s", bq.tablePrefix, today))
	if _, err := table.Metadata(ctx); err != nil {
		bq.logger.Info("table does not exist, creating", "table", table.FullyQualifiedName())
		if err := table.Create(ctx, &bigquery.TableMetadata{Schema: bq.recordSchema}); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	bq.tableDate = today
	bq.inserter = table.Inserter()

	return nil
}

// Close drains whatever is still buffered and releases the client. Called
// after the ingester has stopped feeding the sink.
func (bq *BigQuery) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for len(bq.recordBuf) > 0 {
		if err := bq.insertRecords(ctx); err != nil {
			bq.logger.Error("failed to flush buffered records on close", "err", err)
			break
		}
	}
	return bq.client.Close()
}
