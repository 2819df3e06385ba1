// Package session runs one isolated tracking session: a Mapper bound to one
// character and template, fed frames by a single worker goroutine.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/cortexpuppet/internal/bus"
	"github.com/normanking/cortexpuppet/internal/character"
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/mapper"
	"github.com/normanking/cortexpuppet/internal/metrics"
	"github.com/normanking/cortexpuppet/internal/smoothing"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session: closed")

// finishTimeout bounds Finisher calls made after the session context ends.
const finishTimeout = 5 * time.Second

// Delivery is one processed frame as handed to sinks. Result is nil when the
// frame had no face.
type Delivery struct {
	SessionID   string           `json:"sessionId"`
	CharacterID string           `json:"characterId"`
	TemplateID  string           `json:"templateId,omitempty"`
	Seq         uint64           `json:"seq"`
	Frame       *landmarks.Frame `json:"-"`
	Result      *mapper.Result   `json:"result,omitempty"`
}

// Sink receives every processed frame. Sinks run on the session worker, in
// order, and should return quickly.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// Finisher is implemented by sinks that hold per-session resources. Finish
// is called once when the worker stops.
type Finisher interface {
	Finish(ctx context.Context, sessionID string) error
}

// Options configures a new Session.
type Options struct {
	Mapping  mapper.Config
	Filter   smoothing.Params
	Synonyms mapper.SynonymTable
	Sinks    []Sink
	Bus      *bus.EventBus
	Logger   zerolog.Logger
}

// Session owns a Mapper and the character state it drives. Submit may be
// called from any goroutine; mapping happens only on the Run goroutine.
type Session struct {
	id    string
	log   zerolog.Logger
	bus   *bus.EventBus
	sinks []Sink

	// mu guards the mapper and character state between the worker and
	// Configure, SetConfig and Reset.
	mu     sync.Mutex
	mapper *mapper.Mapper
	char   *character.Character
	tmpl   *character.Template

	frames    chan *landmarks.Frame
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	seq       atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a session for char, with tmpl supplying morph targets. tmpl
// may be nil, in which case only head pose is produced.
func New(char *character.Character, tmpl *character.Template, opts Options) *Session {
	id := uuid.NewString()
	log := opts.Logger.With().Str("session", id).Logger()

	mopts := []mapper.Option{
		mapper.WithFilterParams(opts.Filter),
		mapper.WithLogger(log),
	}
	if len(opts.Synonyms) > 0 {
		mopts = append(mopts, mapper.WithSynonyms(opts.Synonyms))
	}

	s := &Session{
		id:     id,
		log:    log,
		bus:    opts.Bus,
		sinks:  opts.Sinks,
		mapper: mapper.New(opts.Mapping, mopts...),
		char:   char.Clone(),
		tmpl:   tmpl,
		frames: make(chan *landmarks.Frame),
		done:   make(chan struct{}),
	}
	metrics.ActiveSessions.Inc()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Character returns a copy of the current character state.
func (s *Session) Character() *character.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.char.Clone()
}

// Template returns the template in use, or nil.
func (s *Session) Template() *character.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tmpl
}

// Config returns the mapper configuration.
func (s *Session) Config() mapper.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapper.Config()
}

// Dropped returns how many frames were dropped because the worker was busy.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Configure switches the session to another character and template and
// restarts smoothing.
func (s *Session) Configure(char *character.Character, tmpl *character.Template) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	s.char = char.Clone()
	s.tmpl = tmpl
	s.mapper.Reset()
	s.mu.Unlock()

	s.log.Info().
		Str("character", characterID(char)).
		Str("template", templateID(tmpl)).
		Msg("session configured")
	return nil
}

// SetConfig merges a partial mapper configuration, effective from the next
// frame.
func (s *Session) SetConfig(p mapper.ConfigPatch) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if p.Empty() {
		return nil
	}
	s.mu.Lock()
	s.mapper.SetConfig(p)
	cfg := s.mapper.Config()
	s.mu.Unlock()

	s.log.Debug().Interface("config", cfg).Msg("mapping config updated")
	s.publish(bus.EventTypeConfigChanged, map[string]any{"config": cfg})
	return nil
}

// Reset clears smoothing state.
func (s *Session) Reset() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	s.mapper.Reset()
	s.mu.Unlock()

	s.publish(bus.EventTypeTrackingReset, nil)
	return nil
}

// Submit offers a frame to the worker without blocking. It reports false
// when the worker is still busy with an earlier frame, or is not running,
// and the frame was dropped. Frames are never queued.
func (s *Session) Submit(f *landmarks.Frame) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	select {
	case s.frames <- f:
		return true, nil
	default:
		n := s.dropped.Add(1)
		metrics.FramesDropped.Inc()
		s.publish(bus.EventTypeFrameDropped, map[string]any{"dropped": n})
		return false, nil
	}
}

// Run processes frames until ctx is done or the session is closed. Sinks
// implementing Finisher are finished before Run returns.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info().Msg("tracking started")
	s.publish(bus.EventTypeTrackingStarted, nil)

	defer func() {
		s.finishSinks(ctx)
		s.log.Info().Uint64("frames", s.seq.Load()).Uint64("dropped", s.dropped.Load()).Msg("tracking stopped")
		s.publish(bus.EventTypeTrackingStopped, nil)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case f := <-s.frames:
			s.process(ctx, f)
		}
	}
}

// Close stops the worker and clears smoothing state.
func (s *Session) Close() error {
	err := ErrClosed
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)

		s.mu.Lock()
		s.mapper.Reset()
		s.mu.Unlock()

		metrics.ActiveSessions.Dec()
		err = nil
	})
	return err
}

func (s *Session) process(ctx context.Context, f *landmarks.Frame) {
	start := time.Now()

	s.mu.Lock()
	res := s.mapper.MapToCharacter(f, s.char, s.tmpl)
	if res != nil {
		s.char = res.Apply(s.char)
	}
	d := Delivery{
		SessionID:   s.id,
		CharacterID: characterID(s.char),
		TemplateID:  templateID(s.tmpl),
		Seq:         s.seq.Add(1),
		Frame:       f,
		Result:      res,
	}
	s.mu.Unlock()

	metrics.MappingLatency.Observe(time.Since(start).Seconds())
	if res == nil {
		metrics.FramesNoFace.Inc()
		s.publish(bus.EventTypeFrameNoFace, map[string]any{"seq": d.Seq})
	} else {
		metrics.FramesMapped.Inc()
		s.publish(bus.EventTypeFrameMapped, map[string]any{
			"seq":    d.Seq,
			"morphs": len(res.MorphUpdates),
		})
	}

	for _, sink := range s.sinks {
		if err := sink.Deliver(ctx, d); err != nil {
			metrics.SinkErrors.WithLabelValues(sink.Name()).Inc()
			s.log.Warn().Err(err).Str("sink", sink.Name()).Uint64("seq", d.Seq).Msg("delivery failed")
			s.publish(bus.EventTypeSinkError, map[string]any{"sink": sink.Name(), "error": err.Error()})
		}
	}
}

func (s *Session) finishSinks(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	for _, sink := range s.sinks {
		fin, ok := sink.(Finisher)
		if !ok {
			continue
		}
		if err := fin.Finish(fctx, s.id); err != nil {
			s.log.Warn().Err(err).Str("sink", sink.Name()).Msg("finish failed")
		}
	}
}

func (s *Session) publish(t bus.EventType, data map[string]any) {
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(t, s.id, data))
	}
}

func characterID(c *character.Character) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func templateID(t *character.Template) string {
	if t == nil {
		return ""
	}
	return t.ID
}
