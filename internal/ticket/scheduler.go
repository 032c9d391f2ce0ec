package ticket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/corpora-ai/corpora/internal/ingest"
	"github.com/corpora-ai/corpora/internal/store"
)

const (
	// DefaultFetchInterval is the poll period when none is configured.
	DefaultFetchInterval = 15 * time.Minute

	// stopGracePeriod bounds the wait for an in-flight fetch on stop.
	stopGracePeriod = 30 * time.Second
)

// SchedulerConfig configures the poll loop.
type SchedulerConfig struct {
	FetchInterval time.Duration
	MaxPerFetch   int
	Priorities    []string
	States        []string
	DaysBack      int
	AutoIngest    bool
}

// SyncResult summarises one fetch cycle.
type SyncResult struct {
	TotalFetched int
	New          int
	Updated      int
	Skipped      int
	Ingested     int
	Errors       []string
	Duration     time.Duration
}

// Scheduler polls the external source on a fixed interval, caches records
// with change detection, and optionally feeds changed records through the
// ingestion engine.
type Scheduler struct {
	source Source
	meta   *store.SQLiteStore
	engine *ingest.Engine
	cfg    SchedulerConfig

	mu       sync.Mutex
	running  bool
	inFlight sync.WaitGroup
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler. engine may be nil when auto-ingest is
// disabled.
func NewScheduler(source Source, meta *store.SQLiteStore, engine *ingest.Engine, cfg SchedulerConfig) *Scheduler {
	if cfg.FetchInterval <= 0 {
		cfg.FetchInterval = DefaultFetchInterval
	}
	if cfg.MaxPerFetch <= 0 {
		cfg.MaxPerFetch = DefaultPageSize
	}
	return &Scheduler{source: source, meta: meta, engine: engine, cfg: cfg}
}

// Start launches the poll loop. The first fetch runs after one interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx)
	slog.Info("ticket scheduler started",
		slog.Duration("interval", s.cfg.FetchInterval),
		slog.Bool("auto_ingest", s.cfg.AutoIngest))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.inFlight.Add(1)
			result, err := s.SyncOnce(ctx)
			s.inFlight.Done()
			if err != nil {
				slog.Error("scheduled ticket fetch failed", slog.String("error", err.Error()))
				continue
			}
			slog.Info("scheduled ticket fetch complete",
				slog.Int("fetched", result.TotalFetched),
				slog.Int("new", result.New),
				slog.Int("updated", result.Updated),
				slog.Int("skipped", result.Skipped))
		}
	}
}

// Stop halts the loop and waits for any in-flight fetch to drain, up to
// the grace period.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(stopGracePeriod):
		slog.Warn("ticket fetch did not drain before shutdown grace period")
	}
}

// SyncOnce runs one full fetch-compare-ingest cycle synchronously. It is
// both the scheduler tick body and the manual sync operation.
func (s *Scheduler) SyncOnce(ctx context.Context) (*SyncResult, error) {
	start := time.Now()
	result := &SyncResult{}

	incidents, err := s.source.GetIncidents(ctx, FetchFilters{
		Priorities: s.cfg.Priorities,
		States:     s.cfg.States,
		DaysBack:   s.cfg.DaysBack,
	}, s.cfg.MaxPerFetch)
	if err != nil {
		s.recordHistory(ctx, result, start, err)
		return nil, err
	}
	result.TotalFetched = len(incidents)

	for _, inc := range incidents {
		if err := s.processIncident(ctx, inc, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", inc.Number, err))
		}
	}

	result.Duration = time.Since(start)
	s.recordHistory(ctx, result, start, nil)
	return result, nil
}

// processIncident compares the record against the cache and ingests it
// when new or changed.
func (s *Scheduler) processIncident(ctx context.Context, inc *Incident, result *SyncResult) error {
	if !ValidateSysID(inc.SysID) || !ValidateNumber(inc.Number) {
		result.Skipped++
		return fmt.Errorf("malformed identifiers (sys_id=%q number=%q)", inc.SysID, inc.Number)
	}

	hash := ContentHash(inc)
	cached, err := s.meta.GetTicketCache(ctx, inc.SysID)
	if err != nil {
		return err
	}
	if cached != nil && cached.ContentHash == hash {
		result.Skipped++
		return nil
	}
	if cached == nil {
		result.New++
	} else {
		result.Updated++
	}

	entry := &store.TicketCacheEntry{
		SysID:       inc.SysID,
		Number:      inc.Number,
		Data:        Payload(inc),
		ContentHash: hash,
		FetchedAt:   time.Now(),
		UpdatedAt:   parseSourceTime(inc.UpdatedOn),
	}
	if err := s.meta.UpsertTicketCache(ctx, entry); err != nil {
		return err
	}

	if !s.cfg.AutoIngest || s.engine == nil {
		return nil
	}
	return s.ingestIncident(ctx, inc, hash, result)
}

func (s *Scheduler) ingestIncident(ctx context.Context, inc *Incident, hash string, result *SyncResult) error {
	res, err := s.engine.IngestContent(ctx, inc.Number, inc.Number, "ticket",
		store.SourceTypeTicket, hash, BuildChunks(inc), DocumentMetadata(inc))
	if err != nil {
		if markErr := s.meta.MarkTicketIngested(ctx, inc.SysID, "error: "+err.Error()); markErr != nil {
			slog.Warn("failed to record ingestion error", slog.String("sys_id", inc.SysID))
		}
		return err
	}

	result.Ingested++
	outcome := fmt.Sprintf("%s: %d chunks", res.Status, res.ChunkCount)
	return s.meta.MarkTicketIngested(ctx, inc.SysID, outcome)
}

// IngestPending ingests cached tickets that have not been ingested yet,
// the manual path when auto-ingest is off.
func (s *Scheduler) IngestPending(ctx context.Context, limit int) (*SyncResult, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("no ingestion engine configured")
	}

	pending, err := s.meta.ListPendingTickets(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{TotalFetched: len(pending)}
	for _, entry := range pending {
		inc, err := decodeIncident(entry.Data)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Number, err))
			continue
		}
		if err := s.ingestIncident(ctx, inc, entry.ContentHash, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Number, err))
		}
	}
	return result, nil
}

func (s *Scheduler) recordHistory(ctx context.Context, result *SyncResult, start time.Time, fetchErr error) {
	rec := &store.FetchRecord{
		FetchTime:        start,
		TotalFetched:     result.TotalFetched,
		NewIncidents:     result.New,
		UpdatedIncidents: result.Updated,
		SkippedIncidents: result.Skipped,
		DurationSeconds:  time.Since(start).Seconds(),
	}
	errs := result.Errors
	if fetchErr != nil {
		errs = append(errs, fetchErr.Error())
	}
	rec.Errors = strings.Join(errs, "; ")

	if err := s.meta.RecordFetch(ctx, rec); err != nil {
		slog.Warn("failed to record fetch history", slog.String("error", err.Error()))
	}
}

func parseSourceTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func decodeIncident(payload string) (*Incident, error) {
	var inc Incident
	if err := json.Unmarshal([]byte(payload), &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}
