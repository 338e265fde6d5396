package recorder

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"phrase_trading/internal/models"
)

var detectionHeader = []string{
	"id", "timestamp", "market_id", "text", "keywords", "confidence", "fired",
}

var tradeHeader = []string{
	"id", "timestamp", "market_id", "token_id", "side", "price", "size",
	"notional_usd", "status", "order_id", "attempts", "error", "latency_ms",
}

type row struct {
	trade  bool
	fields []string
}

// CSVRecorder appends detections and trades to two CSV files through a
// buffered channel and a background writer, so recording never blocks the
// pipeline's event loop.
type CSVRecorder struct {
	detFile *os.File
	trdFile *os.File
	detW    *csv.Writer
	trdW    *csv.Writer

	writeChan chan row
	done      chan struct{}
	stopped   chan struct{}
}

// NewCSV opens (or creates) the two record files, writing headers for fresh
// files, and starts the background writer.
func NewCSV(detectionsPath, tradesPath string) (*CSVRecorder, error) {
	detFile, detW, err := openCSV(detectionsPath, detectionHeader)
	if err != nil {
		return nil, err
	}
	trdFile, trdW, err := openCSV(tradesPath, tradeHeader)
	if err != nil {
		detFile.Close()
		return nil, err
	}

	r := &CSVRecorder{
		detFile:   detFile,
		trdFile:   trdFile,
		detW:      detW,
		trdW:      trdW,
		writeChan: make(chan row, 4096),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go r.backgroundWriter()
	return r, nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	info, err := os.Stat(path)
	needHeader := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open record file %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if needHeader {
		w.Write(header)
		w.Flush()
	}
	return f, w, nil
}

func (r *CSVRecorder) backgroundWriter() {
	defer close(r.stopped)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case rw := <-r.writeChan:
			if rw.trade {
				r.trdW.Write(rw.fields)
			} else {
				r.detW.Write(rw.fields)
			}
		case <-ticker.C:
			r.detW.Flush()
			r.trdW.Flush()
		case <-r.done:
			// Drain whatever is queued before the final flush.
			for {
				select {
				case rw := <-r.writeChan:
					if rw.trade {
						r.trdW.Write(rw.fields)
					} else {
						r.detW.Write(rw.fields)
					}
				default:
					r.detW.Flush()
					r.trdW.Flush()
					return
				}
			}
		}
	}
}

func (r *CSVRecorder) RecordDetection(rec models.DetectionRecord) {
	r.enqueue(row{fields: []string{
		rec.ID,
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.MarketID,
		rec.Text,
		strings.Join(rec.Keywords, "|"),
		fmt.Sprintf("%.3f", rec.Confidence),
		fmt.Sprintf("%t", rec.Fired),
	}})
}

func (r *CSVRecorder) RecordTrade(rec models.TradeRecord) {
	r.enqueue(row{trade: true, fields: []string{
		rec.ID,
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.MarketID,
		rec.TokenID,
		string(rec.Side),
		rec.Price.String(),
		rec.Size.String(),
		rec.NotionalUSD.StringFixed(2),
		rec.Status,
		rec.OrderID,
		fmt.Sprintf("%d", rec.AttemptCount),
		rec.Error,
		fmt.Sprintf("%d", rec.LatencyMS),
	}})
}

func (r *CSVRecorder) enqueue(rw row) {
	select {
	case r.writeChan <- rw:
	default:
		// Channel full means an IO bottleneck; records are best-effort
		// for the caller, so drop rather than stall the pipeline.
		log.Println("Warning: recorder write channel full, dropping record")
	}
}

// Close flushes pending rows and closes both files.
func (r *CSVRecorder) Close() error {
	close(r.done)
	<-r.stopped
	err1 := r.detFile.Close()
	err2 := r.trdFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
