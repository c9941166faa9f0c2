package caption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-captioner/internal/huggingface"
	"image-captioner/internal/intake"
	"image-captioner/internal/models"
	"image-captioner/internal/session"
)

type reply struct {
	resp *huggingface.Response
	err  error
}

// stubCaptioner answers each request from the channel registered for its image bytes, or from
// fn when no channel is registered.
type stubCaptioner struct {
	mu       sync.Mutex
	calls    int
	requests []huggingface.Request
	gates    map[string]chan reply
	fn       func(ctx context.Context, req huggingface.Request) (*huggingface.Response, error)
}

func (s *stubCaptioner) ImageToText(ctx context.Context, req huggingface.Request) (*huggingface.Response, error) {
	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	gate := s.gates[string(req.Data)]
	s.mu.Unlock()

	if gate != nil {
		select {
		case r := <-gate:
			return r.resp, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.fn(ctx, req)
}

func (s *stubCaptioner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func answer(text string, err error) func(context.Context, huggingface.Request) (*huggingface.Response, error) {
	return func(context.Context, huggingface.Request) (*huggingface.Response, error) {
		if err != nil {
			return nil, err
		}
		return &huggingface.Response{GeneratedText: text}, nil
	}
}

func payload(content string) *intake.Payload {
	return &intake.Payload{
		Name:      content + ".png",
		MediaType: "image/png",
		DataURI:   intake.EncodeDataURI("image/png", []byte(content)),
		Size:      int64(len(content)),
	}
}

func newService(c Captioner, credential bool) *Service {
	return NewService(session.NewMemory(time.Hour), c, Options{
		Model:      "Salesforce/blip-image-captioning-large",
		Credential: credential,
		Logger:     zerolog.Nop(),
	})
}

func waitFor(t *testing.T, ticket *Ticket) models.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := ticket.Wait(ctx)
	require.NoError(t, err)
	return state
}

func TestRequestCaptionMissingCredential(t *testing.T) {
	stub := &stubCaptioner{fn: answer("unused", nil)}
	svc := newService(stub, false)

	ticket, err := svc.RequestCaption(context.Background(), "s1", payload("img"))
	require.NoError(t, err)

	select {
	case <-ticket.Done():
	default:
		t.Fatal("missing credential should fail before returning")
	}

	state, err := svc.State(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, state.Phase)
	assert.Equal(t, MsgMissingCredential, state.Error)
	assert.Zero(t, stub.callCount())
}

func TestRequestCaptionSucceedsVerbatim(t *testing.T) {
	stub := &stubCaptioner{fn: answer("a dog running on grass", nil)}
	svc := newService(stub, true)

	p := payload("img")
	ticket, err := svc.RequestCaption(context.Background(), "s1", p)
	require.NoError(t, err)
	waitFor(t, ticket)
	assert.True(t, ticket.Applied())

	state, err := svc.State(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSucceeded, state.Phase)
	assert.Equal(t, "a dog running on grass", state.Caption)
	assert.Equal(t, p.DataURI, state.Image)
	assert.Empty(t, state.Error)

	require.Equal(t, 1, stub.callCount())
	assert.Equal(t, []byte("img"), stub.requests[0].Data)
	assert.Equal(t, "image/png", stub.requests[0].ContentType)
	assert.Equal(t, "Salesforce/blip-image-captioning-large", stub.requests[0].Model)
}

func TestRequestCaptionClassifiesFailures(t *testing.T) {
	tests := []struct {
		name string
		fn   func(context.Context, huggingface.Request) (*huggingface.Response, error)
		want string
	}{
		{name: "empty text", fn: answer("", nil), want: MsgNoDescription},
		{
			name: "nil response",
			fn: func(context.Context, huggingface.Request) (*huggingface.Response, error) {
				return nil, nil
			},
			want: MsgNoDescription,
		},
		{name: "401 in message", fn: answer("", errors.New("request failed: 401 Unauthorized")), want: MsgAuthFailed},
		{name: "timeout", fn: answer("", errors.New("timeout")), want: MsgRequestFailed},
		{name: "structured 403", fn: answer("", &huggingface.APIError{StatusCode: 403, Message: "forbidden"}), want: MsgAuthFailed},
		{name: "structured 503", fn: answer("", &huggingface.APIError{StatusCode: 503, Message: "model loading"}), want: MsgRequestFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(&stubCaptioner{fn: tt.fn}, true)

			ticket, err := svc.RequestCaption(context.Background(), "s1", payload("img"))
			require.NoError(t, err)
			state := waitFor(t, ticket)

			assert.Equal(t, models.PhaseFailed, state.Phase)
			assert.Equal(t, tt.want, state.Error)
			assert.Empty(t, state.Caption)

			current, err := svc.State(context.Background(), "s1")
			require.NoError(t, err)
			assert.Equal(t, state.Phase, current.Phase)
		})
	}
}

func TestRequestCaptionRecoversFromPanic(t *testing.T) {
	stub := &stubCaptioner{fn: func(context.Context, huggingface.Request) (*huggingface.Response, error) {
		panic("boom")
	}}
	svc := newService(stub, true)

	ticket, err := svc.RequestCaption(context.Background(), "s1", payload("img"))
	require.NoError(t, err)
	state := waitFor(t, ticket)

	assert.Equal(t, models.PhaseFailed, state.Phase)
	assert.Equal(t, MsgRequestFailed, state.Error)
}

func TestRequestCaptionTimeout(t *testing.T) {
	stub := &stubCaptioner{gates: map[string]chan reply{"slow": make(chan reply)}}
	svc := NewService(session.NewMemory(time.Hour), stub, Options{
		Credential: true,
		Timeout:    20 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})

	ticket, err := svc.RequestCaption(context.Background(), "s1", payload("slow"))
	require.NoError(t, err)
	state := waitFor(t, ticket)

	assert.Equal(t, models.PhaseFailed, state.Phase)
	assert.Equal(t, MsgRequestFailed, state.Error)
}

func TestRequestCaptionOutlivesCallerContext(t *testing.T) {
	stub := &stubCaptioner{gates: map[string]chan reply{"img": make(chan reply, 1)}}
	svc := newService(stub, true)

	ctx, cancel := context.WithCancel(context.Background())
	ticket, err := svc.RequestCaption(ctx, "s1", payload("img"))
	require.NoError(t, err)
	cancel()

	stub.gates["img"] <- reply{resp: &huggingface.Response{GeneratedText: "a cat"}}
	state := waitFor(t, ticket)
	assert.Equal(t, models.PhaseSucceeded, state.Phase)
}

func TestOverlappingRequestsKeepLatest(t *testing.T) {
	for _, order := range []string{"older resolves last", "older resolves first"} {
		t.Run(order, func(t *testing.T) {
			stub := &stubCaptioner{gates: map[string]chan reply{
				"first":  make(chan reply, 1),
				"second": make(chan reply, 1),
			}}
			svc := newService(stub, true)
			ctx := context.Background()

			first, err := svc.RequestCaption(ctx, "s1", payload("first"))
			require.NoError(t, err)
			state, err := svc.State(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, models.PhaseLoading, state.Phase)

			second, err := svc.RequestCaption(ctx, "s1", payload("second"))
			require.NoError(t, err)
			state, err = svc.State(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, models.PhaseLoading, state.Phase)
			assert.Greater(t, second.Seq, first.Seq)

			if order == "older resolves last" {
				stub.gates["second"] <- reply{resp: &huggingface.Response{GeneratedText: "second caption"}}
				waitFor(t, second)
				stub.gates["first"] <- reply{resp: &huggingface.Response{GeneratedText: "first caption"}}
				waitFor(t, first)
			} else {
				stub.gates["first"] <- reply{resp: &huggingface.Response{GeneratedText: "first caption"}}
				waitFor(t, first)
				state, err = svc.State(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, models.PhaseLoading, state.Phase)

				stub.gates["second"] <- reply{resp: &huggingface.Response{GeneratedText: "second caption"}}
				waitFor(t, second)
			}

			assert.False(t, first.Applied())
			assert.True(t, second.Applied())

			state, err = svc.State(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, models.PhaseSucceeded, state.Phase)
			assert.Equal(t, "second caption", state.Caption)
		})
	}
}

func TestRejectImageSupersedesInFlightRequest(t *testing.T) {
	stub := &stubCaptioner{gates: map[string]chan reply{"img": make(chan reply, 1)}}
	svc := newService(stub, true)
	ctx := context.Background()

	ticket, err := svc.RequestCaption(ctx, "s1", payload("img"))
	require.NoError(t, err)

	rejected, err := svc.RejectImage(ctx, "s1", intake.ErrUnreadableImage)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, rejected.Phase)
	assert.Equal(t, MsgUnreadableImage, rejected.Error)
	assert.Empty(t, rejected.Image)

	stub.gates["img"] <- reply{resp: &huggingface.Response{GeneratedText: "late"}}
	waitFor(t, ticket)
	assert.False(t, ticket.Applied())

	state, err := svc.State(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, MsgUnreadableImage, state.Error)
}

func TestSessionsAreIndependent(t *testing.T) {
	svc := newService(&stubCaptioner{fn: answer("a boat", nil)}, true)
	ctx := context.Background()

	ticket, err := svc.RequestCaption(ctx, "a", payload("img"))
	require.NoError(t, err)
	waitFor(t, ticket)

	other, err := svc.State(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseIdle, other.Phase)
}

func TestRequestCaptionRequiresPayload(t *testing.T) {
	svc := newService(&stubCaptioner{fn: answer("x", nil)}, true)
	_, err := svc.RequestCaption(context.Background(), "s1", nil)
	assert.Error(t, err)
}
