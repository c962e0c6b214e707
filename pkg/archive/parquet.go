package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/moonyandfriends/badbot-discord-logger/pkg/models"
)

// ParquetRecord is the flattened message row written to parquet files.
type ParquetRecord struct {
	MessageID      string `parquet:"message_id"`
	ChannelID      string `parquet:"channel_id"`
	GuildID        string `parquet:"guild_id"`
	AuthorID       string `parquet:"author_id"`
	AuthorUsername string `parquet:"author_username"`
	MessageType    string `parquet:"message_type"`
	Content        string `parquet:"content"`
	Attachments    string `parquet:"attachments"`
	Embeds         string `parquet:"embeds"`
	CreatedAt      int64  `parquet:"created_at"`
	LoggedAt       int64  `parquet:"logged_at"`
	IsBackfilled   bool   `parquet:"is_backfilled"`
}

// Parquet writes message rows to timestamped parquet files in a local
// directory.
type Parquet struct {
	logger       *slog.Logger
	fileDir      string
	prefix       string
	writeQueue   chan *ParquetRecord
	shutdown     chan struct{}
	wg           sync.WaitGroup
	batchSize    int
	maxBatchWait time.Duration
}

func NewParquet(logger *slog.Logger, fileDir, prefix string, batchSize int, maxBatchWait time.Duration) (*Parquet, error) {
	p := Parquet{
		logger:       logger.With("component", "archive_parquet"),
		fileDir:      fileDir,
		prefix:       prefix,
		batchSize:    batchSize,
		maxBatchWait: maxBatchWait,
		writeQueue:   make(chan *ParquetRecord, batchSize*2),
		shutdown:     make(chan struct{}),
	}

	// Make sure the file directory exists
	err := os.MkdirAll(fileDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file directory: %w", err)
	}

	return &p, nil
}

// StartWriter starts the writer goroutine which writes records to parquet files
// when the batch size is reached, after every maxBatchWait duration, or when the shutdown signal is received
func (p *Parquet) StartWriter() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		var records []*ParquetRecord
		t := time.NewTicker(p.maxBatchWait)
		defer t.Stop()

		p.logger.Info("starting parquet writer loop")

		for {
			select {
			case r := <-p.writeQueue:
				queueDepth.WithLabelValues("parquet").Dec()
				records = append(records, r)
				if len(records) >= p.batchSize {
					p.logger.Info("writing parquet file due to max batch size", "batch_size", p.batchSize)
					err := p.WriteFile(records)
					if err != nil {
						p.logger.Error("failed to write parquet file", "err", err)
					}
					records = nil
				}
			case <-t.C:
				if len(records) > 0 {
					p.logger.Info("writing parquet file due to max batch wait", "max_batch_wait", p.maxBatchWait.String())
					err := p.WriteFile(records)
					if err != nil {
						p.logger.Error("failed to write parquet file", "err", err)
					}
					records = nil
				}
			case <-p.shutdown:
				p.logger.Info("shutting down parquet writer")
				if len(records) > 0 {
					err := p.WriteFile(records)
					if err != nil {
						p.logger.Error("failed to write parquet file", "err", err)
					}
				}
				return
			}
		}
	}()
}

// Shutdown signals the writer goroutine to shutdown and waits for the final
// file to land.
func (p *Parquet) Shutdown() {
	p.logger.Info("waiting for parquet writer to shutdown")
	close(p.shutdown)
	p.wg.Wait()
	p.logger.Info("parquet writer shutdown successfully")
}

// Enqueue buffers a message batch for the writer goroutine. Overflow drops
// the record rather than blocking the flush path.
func (p *Parquet) Enqueue(msgs []*models.Message) {
	for _, m := range msgs {
		if m == nil {
			continue
		}
		select {
		case p.writeQueue <- parquetRecordFrom(m):
			recordsEnqueued.WithLabelValues("parquet").Inc()
			queueDepth.WithLabelValues("parquet").Inc()
		default:
			recordsDropped.WithLabelValues("parquet").Inc()
		}
	}
}

func parquetRecordFrom(m *models.Message) *ParquetRecord {
	rec := &ParquetRecord{
		MessageID:      m.MessageID,
		ChannelID:      m.ChannelID,
		AuthorID:       m.AuthorID,
		AuthorUsername: m.AuthorUsername,
		MessageType:    string(m.MessageType),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UnixMilli(),
		LoggedAt:       m.LoggedAt.UnixMilli(),
		IsBackfilled:   m.IsBackfilled,
	}
	if m.GuildID != nil {
		rec.GuildID = *m.GuildID
	}
	if len(m.Attachments) > 0 {
		if raw, err := json.Marshal(m.Attachments); err == nil {
			rec.Attachments = string(raw)
		}
	}
	if len(m.Embeds) > 0 {
		if raw, err := json.Marshal(m.Embeds); err == nil {
			rec.Embeds = string(raw)
		}
	}
	return rec
}

// WriteFile writes the given records to a parquet file
func (p *Parquet) WriteFile(records []*ParquetRecord) error {
	// Write files to a parquet file with the current timestamp as the file suffix
	fName := path.Join(p.fileDir, fmt.Sprintf("%s_%s.parquet", p.prefix, time.Now().UTC().Format("2006_01_02-15_04_05")))

	filterBits := uint(10)

	start := time.Now()
	p.logger.Info("writing parquet file", "file_path", fName, "num_records", len(records))

	err := parquet.WriteFile(fName, records, parquet.BloomFilters(
		parquet.SplitBlockFilter(filterBits, "message_id"),
		parquet.SplitBlockFilter(filterBits, "channel_id"),
		parquet.SplitBlockFilter(filterBits, "guild_id"),
		parquet.SplitBlockFilter(filterBits, "author_id"),
	))
	if err != nil {
		return fmt.Errorf("failed to write parquet file: %w", err)
	}

	batchSubmissionDuration.WithLabelValues("parquet").Observe(float64(time.Since(start).Milliseconds()))
	batchSizeHist.WithLabelValues("parquet").Observe(float64(len(records)))
	p.logger.Info("wrote parquet file", "file_path", fName)

	return nil
}
