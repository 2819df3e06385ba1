package takes

import (
	"context"
	"sync"

	"github.com/normanking/cortexpuppet/internal/session"
	"github.com/rs/zerolog"
)

// Recorder is a session sink that writes every frame to a take. A take is
// opened on a session's first frame and finished when the session stops or
// switches to another character or template. One Recorder may serve many
// sessions.
type Recorder struct {
	store *Store
	log   zerolog.Logger

	mu    sync.Mutex
	takes map[string]openTake // by session id
}

type openTake struct {
	id          string
	characterID string
	templateID  string
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store *Store, log zerolog.Logger) *Recorder {
	return &Recorder{
		store: store,
		log:   log,
		takes: make(map[string]openTake),
	}
}

// Name implements session.Sink.
func (r *Recorder) Name() string { return "takes" }

// Deliver implements session.Sink.
func (r *Recorder) Deliver(ctx context.Context, d session.Delivery) error {
	takeID, err := r.takeFor(ctx, d)
	if err != nil {
		return err
	}
	return r.store.AppendFrame(ctx, takeID, Frame{Seq: d.Seq, Input: d.Frame, Result: d.Result})
}

// Finish implements session.Finisher.
func (r *Recorder) Finish(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	open, ok := r.takes[sessionID]
	delete(r.takes, sessionID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return r.finish(ctx, sessionID, open.id)
}

func (r *Recorder) finish(ctx context.Context, sessionID, takeID string) error {
	if err := r.store.FinishTake(ctx, takeID); err != nil {
		return err
	}
	r.log.Info().Str("take", takeID).Str("session", sessionID).Msg("take finished")
	return nil
}

// TakeID returns the open take for a session.
func (r *Recorder) TakeID(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	open, ok := r.takes[sessionID]
	return open.id, ok
}

func (r *Recorder) takeFor(ctx context.Context, d session.Delivery) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if open, ok := r.takes[d.SessionID]; ok {
		if open.characterID == d.CharacterID && open.templateID == d.TemplateID {
			return open.id, nil
		}
		// The session switched rig; frames after this point belong to a new take.
		delete(r.takes, d.SessionID)
		if err := r.finish(ctx, d.SessionID, open.id); err != nil {
			return "", err
		}
	}
	t, err := r.store.CreateTake(ctx, Take{
		SessionID:   d.SessionID,
		CharacterID: d.CharacterID,
		TemplateID:  d.TemplateID,
	})
	if err != nil {
		return "", err
	}
	r.takes[d.SessionID] = openTake{id: t.ID, characterID: d.CharacterID, templateID: d.TemplateID}
	r.log.Info().Str("take", t.ID).Str("session", d.SessionID).Str("character", d.CharacterID).Msg("take started")
	return t.ID, nil
}
