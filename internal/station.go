package swingsense

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"
)

// ErrStopped is returned once the station no longer runs.
var ErrStopped = errors.New("station stopped")

// ErrMalformedPatch is returned when a config patch is not a JSON object
// of config fields.
var ErrMalformedPatch = errors.New("malformed config patch")

// ConfigPusher forwards changed settings to the remote detector process.
type ConfigPusher interface {
	Push(field string, value interface{}) error
}

// Sinks fans one output record out to several sinks, in order.
func Sinks(sinks ...Sink) Sink {
	return func(o Output) {
		for _, s := range sinks {
			if s != nil {
				s(o)
			}
		}
	}
}

// configRequest derives the next config from the current one inside Run.
type configRequest struct {
	next  func(current Config) (Config, error)
	reply chan configReply
}

type configReply struct {
	prev Config
	next Config
	err  error
}

// Station owns a SwingDetector and drives it from a single goroutine.
// Samples and config changes are serialized through Run.
type Station struct {
	detector *SwingDetector
	repo     *repo
	pusher   ConfigPusher
	now      func() time.Time
	log      log.Logger

	samples  chan float64
	requests chan configRequest
	done     chan struct{}
	stopOnce sync.Once
}

// NewStation creates a station. Every output record is kept as the latest
// telemetry and then handed to sink.
func NewStation(cfg Config, windows Windows, sink Sink) (*Station, error) {
	s := &Station{
		repo:     &repo{config: cfg},
		now:      time.Now,
		log:      log.New("module", "station"),
		samples:  make(chan float64, 16),
		requests: make(chan configRequest),
		done:     make(chan struct{}),
	}
	detector, err := NewSwingDetector(cfg, windows, Sinks(s.repo.saveTelemetry, sink))
	if err != nil {
		return nil, err
	}
	s.detector = detector
	return s, nil
}

// SetPusher sets where config changes are forwarded. Call before Run.
func (s *Station) SetPusher(p ConfigPusher) {
	s.pusher = p
}

// Run processes samples and config changes until Stop is called.
func (s *Station) Run() {
	for {
		select {
		case raw := <-s.samples:
			s.detector.ProcessSample(raw, s.now())
		case req := <-s.requests:
			prev := s.detector.Config()
			next, err := req.next(prev)
			if err == nil {
				err = s.detector.ApplyConfig(next)
			}
			if err == nil {
				s.repo.saveConfig(next)
			}
			req.reply <- configReply{prev: prev, next: next, err: err}
		case <-s.done:
			return
		}
	}
}

// Stop ends Run. Pending samples are dropped. Stop may be called more than once.
func (s *Station) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Submit queues a raw sample. Samples are processed in submission order.
func (s *Station) Submit(raw float64) {
	select {
	case s.samples <- raw:
	case <-s.done:
	}
}

// UpdateConfig applies cfg as a whole and forwards every changed field to the
// remote detector. Nothing is applied if cfg fails validation.
func (s *Station) UpdateConfig(cfg Config) error {
	return s.changeConfig(func(Config) (Config, error) { return cfg, nil })
}

// PatchConfig merges a partial JSON config onto the current one. The merge
// happens on the station goroutine, so concurrent patches never overwrite
// each other's fields.
func (s *Station) PatchConfig(patch []byte) error {
	return s.changeConfig(func(current Config) (Config, error) {
		if err := json.Unmarshal(patch, &current); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrMalformedPatch, err)
		}
		return current, nil
	})
}

func (s *Station) changeConfig(next func(Config) (Config, error)) error {
	req := configRequest{next: next, reply: make(chan configReply, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return ErrStopped
	}
	reply := <-req.reply
	if reply.err != nil {
		return reply.err
	}

	for field, value := range reply.next.Changes(reply.prev) {
		s.log.Info("Config changed", "field", field, "value", value)
		if s.pusher == nil {
			continue
		}
		if err := s.pusher.Push(field, value); err != nil {
			s.log.Warn("Failed to push config", "field", field, "error", err)
		}
	}
	return nil
}

// Config returns the last applied configuration.
func (s *Station) Config() Config {
	return s.repo.loadConfig()
}

// Telemetry returns the latest output record.
func (s *Station) Telemetry() (Output, bool) {
	return s.repo.loadTelemetry()
}

// SavePreview stores the latest preview frame from the remote detector.
func (s *Station) SavePreview(jpeg []byte) {
	s.repo.savePreview(jpeg)
}

// Preview returns the latest preview frame, nil if none arrived yet.
func (s *Station) Preview() []byte {
	return s.repo.loadPreview()
}
