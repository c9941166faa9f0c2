// Package caption drives the caption request lifecycle of a session: it moves the session to
// loading, calls the captioning endpoint and records the classified outcome.
package caption

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"image-captioner/internal/huggingface"
	"image-captioner/internal/intake"
	"image-captioner/internal/metrics"
	"image-captioner/internal/models"
	"image-captioner/internal/session"
)

// Captioner turns image bytes into text. *huggingface.Client implements it.
type Captioner interface {
	ImageToText(ctx context.Context, req huggingface.Request) (*huggingface.Response, error)
}

type Options struct {
	Model string
	// Credential reports whether the captioning API key is configured.
	Credential bool
	// Timeout bounds one call to the captioner; zero leaves it unbounded.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type Service struct {
	store      session.Store
	captioner  Captioner
	model      string
	credential bool
	timeout    time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(store session.Store, captioner Captioner, opts Options) *Service {
	model := opts.Model
	if model == "" {
		model = huggingface.DefaultModel
	}
	return &Service{
		store:      store,
		captioner:  captioner,
		model:      model,
		credential: opts.Credential,
		timeout:    opts.Timeout,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Ticket tracks one caption request.
type Ticket struct {
	Session string
	Seq     uint64

	done    chan struct{}
	state   models.State
	applied bool
}

func newTicket(sessionID string, seq uint64) *Ticket {
	return &Ticket{Session: sessionID, Seq: seq, done: make(chan struct{})}
}

// Done is closed once the outcome has been recorded or discarded.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the request finishes and returns the state it produced.
func (t *Ticket) Wait(ctx context.Context) (models.State, error) {
	select {
	case <-t.done:
		return t.state, nil
	case <-ctx.Done():
		return models.State{}, ctx.Err()
	}
}

// Applied reports whether the outcome reached the session. It is false when a newer request
// superseded this one. Only meaningful after Done.
func (t *Ticket) Applied() bool {
	return t.applied
}

func (t *Ticket) resolve(state models.State, applied bool) {
	t.state = state
	t.applied = applied
	close(t.done)
}

// RequestCaption moves the session to loading and starts captioning payload. The session is
// loading by the time RequestCaption returns; the outcome is recorded asynchronously unless the
// credential is missing, in which case the session fails before any network call.
func (s *Service) RequestCaption(ctx context.Context, sessionID string, payload *intake.Payload) (*Ticket, error) {
	if payload == nil {
		return nil, errors.New("image payload is required")
	}

	prev, _, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	loading := s.stamp(Transition(prev, Submitted{Image: payload.DataURI}))

	seq, err := s.store.Begin(ctx, sessionID, loading)
	if err != nil {
		return nil, fmt.Errorf("failed to start caption request: %w", err)
	}
	ticket := newTicket(sessionID, seq)

	log := s.logger.With().Str("session", sessionID).Uint64("seq", seq).Logger()
	log.Info().Str("file", payload.Name).Str("media_type", payload.MediaType).Int64("bytes", payload.Size).Msg("caption requested")

	if !s.credential {
		s.finish(context.WithoutCancel(ctx), ticket, loading, Failed{Err: newError(KindConfig, "credential", nil)}, log)
		return ticket, nil
	}

	go s.run(context.WithoutCancel(ctx), ticket, loading, payload, log)
	return ticket, nil
}

// RejectImage records an upload that could not be read. It supersedes any in-flight request.
func (s *Service) RejectImage(ctx context.Context, sessionID string, cause error) (models.State, error) {
	prev, _, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return models.State{}, fmt.Errorf("failed to load session: %w", err)
	}
	failed := s.stamp(Transition(prev, Rejected{Err: newError(KindImage, "intake", cause)}))
	if _, err := s.store.Begin(ctx, sessionID, failed); err != nil {
		return models.State{}, fmt.Errorf("failed to record rejected image: %w", err)
	}
	metrics.CaptionRequests.WithLabelValues(string(KindImage)).Inc()
	s.logger.Warn().Err(cause).Str("session", sessionID).Msg("uploaded image rejected")
	return failed, nil
}

// State returns the current state of a session.
func (s *Service) State(ctx context.Context, sessionID string) (models.State, error) {
	state, _, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return models.State{}, fmt.Errorf("failed to load session: %w", err)
	}
	return state, nil
}

func (s *Service) run(ctx context.Context, ticket *Ticket, loading models.State, payload *intake.Payload, log zerolog.Logger) {
	var event Event
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("caption request panicked")
			event = Failed{Err: newError(KindRequest, "caption", fmt.Errorf("panic: %v", r))}
		}
		s.finish(ctx, ticket, loading, event, log)
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	event = s.caption(ctx, payload)
}

func (s *Service) caption(ctx context.Context, payload *intake.Payload) Event {
	raw, mediaType, err := intake.DecodeDataURI(payload.DataURI)
	if err != nil {
		return Failed{Err: newError(KindRequest, "decode", err)}
	}

	start := time.Now()
	resp, err := s.captioner.ImageToText(ctx, huggingface.Request{
		Model:       s.model,
		Data:        raw,
		ContentType: mediaType,
	})
	metrics.CaptionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return Failed{Err: Classify(err)}
	}
	if resp == nil || resp.GeneratedText == "" {
		return Failed{Err: newError(KindEmpty, "caption", nil)}
	}
	return Completed{Caption: resp.GeneratedText}
}

func (s *Service) finish(ctx context.Context, ticket *Ticket, loading models.State, event Event, log zerolog.Logger) {
	next := s.stamp(Transition(loading, event))

	applied, err := s.store.Commit(ctx, ticket.Session, ticket.Seq, next)
	if err != nil {
		log.Error().Err(err).Msg("failed to record caption outcome")
	}
	ticket.resolve(next, applied)

	outcome := "succeeded"
	if f, ok := event.(Failed); ok {
		outcome = string(f.Err.Kind)
		log.Warn().Err(f.Err).Str("kind", outcome).Msg("caption request failed")
	}
	metrics.CaptionRequests.WithLabelValues(outcome).Inc()

	if !applied && err == nil {
		metrics.StaleResults.Inc()
		log.Debug().Msg("discarded result of superseded caption request")
		return
	}
	if next.Phase == models.PhaseSucceeded {
		log.Info().Int("caption_len", len(next.Caption)).Msg("caption generated")
	}
}

func (s *Service) stamp(state models.State) models.State {
	state.UpdatedAt = s.now().UTC()
	return state
}
