// ABOUTME: Background processing channel for parsing and flattening large documents.
// ABOUTME: Runs on a dedicated goroutine and communicates only via tagged messages.

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/PreethamGoud/SecureWatch/internal/flatten"
	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotStarted is returned when a request is submitted before Start or
	// after the processor goroutine has shut down.
	ErrNotStarted = errors.New("worker not initialized")

	// ErrBusy is returned when a request is submitted while a previous one is
	// still in flight. The channel supports exactly one ingestion at a time.
	ErrBusy = errors.New("processing already in progress")
)

// MessageKind discriminates the messages emitted during one processing request.
type MessageKind int

const (
	// KindProgress carries an intermediate progress update.
	KindProgress MessageKind = iota
	// KindResult carries the flattened records and metrics; always terminal.
	KindResult
	// KindError carries a failure message; always terminal.
	KindError
)

// Message is the tagged union sent back to the caller. A request produces zero
// or more Progress messages followed by exactly one Result or Error, after
// which the channel is closed.
type Message struct {
	Kind     MessageKind
	Progress float64
	Note     string
	Result   *Result
	Err      string
}

// Result is the payload of a successful processing request.
type Result struct {
	Vulnerabilities []types.FlatVulnerability
	Metrics         *types.Metrics
}

type request struct {
	payload []byte
	out     chan Message
}

// Processor executes parse/flatten/aggregate work off the caller's goroutine.
// All communication happens through message channels; no state is shared.
type Processor struct {
	logger   *logrus.Logger
	requests chan request
	done     chan struct{}
	started  atomic.Bool
	busy     atomic.Bool
}

// NewProcessor creates a background processor. Start must be called before
// submitting requests.
func NewProcessor(logger *logrus.Logger) *Processor {
	return &Processor{
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// Start launches the processing goroutine. It returns immediately; the
// goroutine exits when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	go func() {
		logger := p.logger.WithField("component", "data_processor")
		logger.Debug("Background processor started")

		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.started.Store(false)
				logger.Debug("Background processor stopping")
				return
			case req := <-p.requests:
				p.handle(req)
				p.busy.Store(false)
			}
		}
	}()
}

// Process submits one raw JSON document for flattening and aggregation. The
// returned channel yields progress messages followed by one terminal result or
// error message, then closes. A second call before the first terminal message
// fails with ErrBusy.
func (p *Processor) Process(payload []byte) (<-chan Message, error) {
	if !p.started.Load() {
		return nil, ErrNotStarted
	}
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	// Unbuffered: the processing goroutine advances only as fast as the
	// caller consumes messages, so the request stays in flight until its
	// terminal message has been received.
	out := make(chan Message)
	select {
	case p.requests <- request{payload: payload, out: out}:
		return out, nil
	case <-p.done:
		p.busy.Store(false)
		return nil, ErrNotStarted
	}
}

func (p *Processor) handle(req request) {
	defer close(req.out)

	logger := p.logger.WithField("operation", "process_document")

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Document processing panicked")
			req.out <- Message{Kind: KindError, Err: fmt.Sprintf("processing failed: %v", r)}
		}
	}()

	// Progress must never go backwards within one request, so clamp updates
	// from the flatten/aggregate callbacks to a running maximum.
	var last float64
	progress := func(pct float64, note string) {
		if pct < last {
			pct = last
		}
		last = pct
		req.out <- Message{Kind: KindProgress, Progress: pct, Note: note}
	}

	progress(10, "Parsing JSON data...")

	var doc types.SourceDocument
	if err := json.Unmarshal(req.payload, &doc); err != nil {
		logger.WithError(err).Error("Failed to parse document")
		req.out <- Message{Kind: KindError, Err: fmt.Sprintf("failed to parse JSON: %v", err)}
		return
	}

	progress(20, "Flattening vulnerability data...")

	records := flatten.Flatten(&doc, progress)

	progress(70, "Calculating metrics...")

	metrics := flatten.Aggregate(records, progress)

	progress(100, "Processing complete!")

	logger.WithFields(logrus.Fields{
		"records": len(records),
		"groups":  len(doc.Groups),
	}).Info("Document processing completed")

	req.out <- Message{Kind: KindResult, Result: &Result{Vulnerabilities: records, Metrics: metrics}}
}
