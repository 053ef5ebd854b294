// ABOUTME: Orchestrates ingestion: fetch/read raw JSON, background processing, store writes.
// ABOUTME: Exposes the observable loading-state machine that every consumer watches.

package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/PreethamGoud/SecureWatch/internal/store"
	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/PreethamGoud/SecureWatch/internal/worker"
	"github.com/sirupsen/logrus"
)

// Status enumerates the loading-state machine. Transitions:
// idle -> loading -> processing -> ready, with error reachable from loading
// and processing. A new load from ready or error restarts the sequence.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusLoading    Status = "loading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// State is the immutable snapshot broadcast to listeners on every transition.
type State struct {
	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Err      string  `json:"error,omitempty"`
}

// ErrLoadInProgress is returned when a load is requested while another
// ingestion is still running. Loads are strictly serialized.
var ErrLoadInProgress = errors.New("a data load is already in progress")

const fetchChunkSize = 256 * 1024

// DataLoader drives the ingestion pipeline and owns the single loading-state
// stream. Construct exactly one instance at startup and inject it into
// consumers; it holds the only handles to the store and background processor.
type DataLoader struct {
	store     *store.Store
	processor *worker.Processor
	client    *http.Client
	logger    *logrus.Logger

	mu          sync.Mutex
	state       State
	listeners   map[int]func(State)
	nextID      int
	loading     bool
	maxProgress float64
}

// New creates a DataLoader over the given store and background processor.
func New(st *store.Store, processor *worker.Processor, logger *logrus.Logger) *DataLoader {
	return &DataLoader{
		store:     st,
		processor: processor,
		client:    &http.Client{},
		logger:    logger,
		state:     State{Status: StatusIdle},
		listeners: map[int]func(State){},
	}
}

// OnStateChange registers a listener that is invoked synchronously with every
// state update. The returned function unsubscribes it. Late subscribers only
// observe updates from subscription time onward; there is no replay.
func (l *DataLoader) OnStateChange(fn func(State)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// State returns the current loading-state snapshot.
func (l *DataLoader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// updateState publishes a new state. Progress is clamped to the running
// maximum of the current ingestion so the stream is monotonically
// non-decreasing; error states reset progress to zero.
func (l *DataLoader) updateState(state State) {
	l.mu.Lock()
	if state.Status == StatusError {
		state.Progress = 0
		l.maxProgress = 0
	} else {
		if state.Progress < l.maxProgress {
			state.Progress = l.maxProgress
		}
		l.maxProgress = state.Progress
	}
	l.state = state

	fns := make([]func(State), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// LoadFromURL fetches a JSON document over HTTP(S) and runs the full
// ingestion sequence. It blocks until the data is ready or the attempt fails.
func (l *DataLoader) LoadFromURL(ctx context.Context, url string) error {
	return l.load(ctx, func(ctx context.Context) ([]byte, error) {
		return l.fetch(ctx, url)
	})
}

// LoadFromFile reads a JSON document from the local filesystem and runs the
// full ingestion sequence.
func (l *DataLoader) LoadFromFile(ctx context.Context, path string) error {
	return l.load(ctx, func(ctx context.Context) ([]byte, error) {
		l.updateState(State{Status: StatusLoading, Progress: 10, Message: fmt.Sprintf("Reading file: %s", filepath.Base(path))})
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %q: %w", path, err)
		}
		return data, nil
	})
}

// IsDataAvailable reports whether a previous ingestion left a populated store.
func (l *DataLoader) IsDataAvailable() (bool, error) {
	if err := l.store.Open(); err != nil {
		return false, err
	}
	return l.store.IsPopulated()
}

// CachedMetrics returns the metrics summary cached by the last ingestion
// without recomputation, or nil when none is stored.
func (l *DataLoader) CachedMetrics() (*types.Metrics, error) {
	if err := l.store.Open(); err != nil {
		return nil, err
	}
	return l.store.CachedMetrics()
}

// StoreSize reports the approximate on-disk size of the store in bytes.
// Best effort; consumers treat a failure as "unknown", never as fatal.
func (l *DataLoader) StoreSize() (int64, error) {
	return l.store.EstimateSize()
}

// load serializes ingestions, drives the clear/acquire/process/store
// sequence, and folds every failure into the error state.
func (l *DataLoader) load(ctx context.Context, acquire func(context.Context) ([]byte, error)) error {
	l.mu.Lock()
	if l.loading {
		l.mu.Unlock()
		return ErrLoadInProgress
	}
	l.loading = true
	l.maxProgress = 0
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.loading = false
		l.mu.Unlock()
	}()

	if err := l.ingest(ctx, acquire); err != nil {
		l.logger.WithError(err).Error("Data load failed")
		l.updateState(State{Status: StatusError, Message: "Failed to load data", Err: err.Error()})
		return err
	}
	return nil
}

func (l *DataLoader) ingest(ctx context.Context, acquire func(context.Context) ([]byte, error)) error {
	logger := l.logger.WithField("operation", "ingest")

	if err := l.store.Open(); err != nil {
		return err
	}

	if err := l.clearExisting(); err != nil {
		return err
	}

	payload, err := acquire(ctx)
	if err != nil {
		return err
	}

	l.updateState(State{Status: StatusProcessing, Progress: 50, Message: "Processing data in background..."})

	messages, err := l.processor.Process(payload)
	if err != nil {
		return err
	}

	var result *worker.Result
	for msg := range messages {
		switch msg.Kind {
		case worker.KindProgress:
			l.updateState(State{Status: StatusProcessing, Progress: msg.Progress, Message: msg.Note})
		case worker.KindResult:
			result = msg.Result
		case worker.KindError:
			return errors.New(msg.Err)
		}
	}
	if result == nil {
		return errors.New("background processor ended without a result")
	}

	l.updateState(State{Status: StatusProcessing, Progress: 80, Message: "Storing data..."})

	err = l.store.BulkInsert(result.Vulnerabilities, func(progress float64) {
		l.updateState(State{
			Status:   StatusProcessing,
			Progress: 80 + progress*0.15,
			Message:  "Storing vulnerabilities...",
		})
	})
	if err != nil {
		return err
	}

	if err := l.store.StoreMetrics(result.Metrics); err != nil {
		return err
	}

	logger.WithField("records", len(result.Vulnerabilities)).Info("Ingestion completed")
	l.updateState(State{Status: StatusReady, Progress: 100, Message: "Data loaded successfully!"})
	return nil
}

// clearExisting wipes a previously populated store and verifies the wipe took
// effect. Writing fresh records over a store that failed to clear would leave
// stale and fresh rows interleaved, so a failed verify aborts the ingestion.
func (l *DataLoader) clearExisting() error {
	populated, err := l.store.IsPopulated()
	if err != nil {
		return err
	}
	if !populated {
		return nil
	}

	l.updateState(State{Status: StatusLoading, Progress: 0, Message: "Clearing database cache..."})
	if err := l.store.Clear(); err != nil {
		return err
	}

	stillPopulated, err := l.store.IsPopulated()
	if err != nil {
		return err
	}
	if stillPopulated {
		return errors.New("failed to clear existing data")
	}
	return nil
}

// fetch downloads the document, reporting incremental progress when the
// server provides a content length. No timeout is enforced beyond ctx.
func (l *DataLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	l.updateState(State{Status: StatusLoading, Progress: 5, Message: "Fetching JSON file..."})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", url, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var total int64
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		total, _ = strconv.ParseInt(cl, 10, 64)
	}

	l.updateState(State{Status: StatusLoading, Progress: 5, Message: "Downloading data..."})

	var body []byte
	buf := make([]byte, fetchChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
			if total > 0 {
				progress := 5 + float64(len(body))/float64(total)*40
				l.updateState(State{
					Status:   StatusLoading,
					Progress: progress,
					Message:  fmt.Sprintf("Downloaded %.1fMB...", float64(len(body))/1024/1024),
				})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response body: %w", readErr)
		}
	}

	return body, nil
}
