package detector

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vigil/modbot/internal/metrics"
	"github.com/vigil/modbot/internal/report"
	"github.com/vigil/modbot/internal/window"
)

// DefaultSweepInterval is how often the background loop inspects
// channels with new traffic.
const DefaultSweepInterval = 30 * time.Second

// Sink receives the reports the background loop synthesizes. The router
// implements it: enqueue, count the offense, announce in the mod
// channel.
type Sink interface {
	HandleDetection(ctx context.Context, channelID string, rec *report.Record)
}

// Service is the background detection loop. It sweeps only channels
// that saw traffic since the last pass, so idle channels cost nothing
// and no transcript is classified twice.
type Service struct {
	window   *window.Window
	detector *Detector
	sink     Sink
	interval time.Duration

	mu    sync.Mutex
	dirty map[string]bool // channelID -> has new traffic

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a detection service over the given window. An
// interval of zero falls back to DefaultSweepInterval.
func NewService(w *window.Window, d *Detector, sink Sink, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		window:   w,
		detector: d,
		sink:     sink,
		interval: interval,
		dirty:    make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// MarkActivity flags a channel for inspection on the next sweep. Called
// by the router for every monitored group-channel message.
func (s *Service) MarkActivity(channelID string) {
	s.mu.Lock()
	s.dirty[channelID] = true
	s.mu.Unlock()
}

// Start launches the sweep loop.
func (s *Service) Start() {
	go s.sweepLoop()
	log.Println("[detector] service started")
}

// Stop shuts the sweep loop down.
func (s *Service) Stop() {
	s.cancel()
	log.Println("[detector] service stopped")
}

func (s *Service) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("[detector] sweep loop stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep inspects every channel flagged since the last pass.
func (s *Service) sweep() {
	s.mu.Lock()
	channels := make([]string, 0, len(s.dirty))
	for ch := range s.dirty {
		channels = append(channels, ch)
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	for _, channelID := range channels {
		s.inspectChannel(channelID)
	}
}

func (s *Service) inspectChannel(channelID string) {
	newest, ok := s.window.Newest(channelID)
	if !ok {
		return
	}
	transcript := s.window.Transcript(channelID)

	rec, err := s.detector.Inspect(s.ctx, transcript, newest)
	if err != nil {
		var cerr *ClassificationError
		if errors.As(err, &cerr) {
			log.Printf("[detector] classification protocol error on %s: %v", channelID, err)
			metrics.ClassifierErrors.WithLabelValues("protocol").Inc()
		} else {
			log.Printf("[detector] inspect %s: %v", channelID, err)
			metrics.ClassifierErrors.WithLabelValues("transport").Inc()
		}
		return
	}
	if rec == nil {
		return
	}

	log.Printf("[detector] violation detected on %s: %s (severity %d)", channelID, rec.SpecificType, rec.Severity())
	s.sink.HandleDetection(s.ctx, channelID, rec)
}
