package caption

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"image-captioner/internal/huggingface"
)

type Kind string

const (
	KindConfig  Kind = "config"
	KindAuth    Kind = "auth"
	KindEmpty   Kind = "empty"
	KindRequest Kind = "request"
	KindImage   Kind = "image"
)

// Messages shown to the user for each kind of failure.
const (
	MsgMissingCredential = "Missing Hugging Face API key."
	MsgAuthFailed        = "Authentication failed. Please check your API key."
	MsgNoDescription     = "No description generated."
	MsgRequestFailed     = "Error generating description. Please try again."
	MsgUnreadableImage   = "Could not read the uploaded image."
)

var messages = map[Kind]string{
	KindConfig:  MsgMissingCredential,
	KindAuth:    MsgAuthFailed,
	KindEmpty:   MsgNoDescription,
	KindRequest: MsgRequestFailed,
	KindImage:   MsgUnreadableImage,
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: messages[kind], Cause: cause}
}

// Classify maps a failed caption call onto the user-facing taxonomy. A status code from the
// inference API takes precedence; the error text is only searched when none is available.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	var apiErr *huggingface.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return newError(KindAuth, "caption", err)
		default:
			return newError(KindRequest, "caption", err)
		}
	}

	if strings.Contains(err.Error(), "401") {
		return newError(KindAuth, "caption", err)
	}
	return newError(KindRequest, "caption", err)
}
