package caption

import "image-captioner/internal/models"

// Event moves a session State forward.
type Event interface {
	event()
}

// Submitted is a new image entering the requester.
type Submitted struct {
	Image string
}

// Completed carries the generated caption.
type Completed struct {
	Caption string
}

// Failed carries the classified failure of an in-flight request.
type Failed struct {
	Err *Error
}

// Rejected is an upload that could not be read.
type Rejected struct {
	Err *Error
}

func (Submitted) event() {}
func (Completed) event() {}
func (Failed) event()    {}
func (Rejected) event()  {}

// Transition returns the state that follows s after e. Outcomes only apply to a loading state.
func Transition(s models.State, e Event) models.State {
	switch ev := e.(type) {
	case Submitted:
		return models.State{Phase: models.PhaseLoading, Image: ev.Image}
	case Completed:
		if !s.Loading() {
			return s
		}
		return models.State{Phase: models.PhaseSucceeded, Image: s.Image, Caption: ev.Caption}
	case Failed:
		if !s.Loading() {
			return s
		}
		return models.State{Phase: models.PhaseFailed, Image: s.Image, Error: message(ev.Err)}
	case Rejected:
		return models.State{Phase: models.PhaseFailed, Error: message(ev.Err)}
	}
	return s
}

func message(err *Error) string {
	if err == nil || err.Message == "" {
		return MsgRequestFailed
	}
	return err.Message
}
