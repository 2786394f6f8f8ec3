package validation

import (
	"errors"
	"mime/multipart"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"instrumentation-backend/internal/models"
)

const (
	MaxFrameSize      = 20 * 1024 * 1024 // 20MB
	MaxDetailsLength  = 10000
	MaxMessageLength  = 10000
	MaxSessionNameLen = 255

	maxFilenameLen = 255
)

// Reasons for rejecting an action before anything is sent or stored.
// Callers match them with errors.Is.
var (
	ErrEmptySelection      = errors.New("at least one metric must be selected")
	ErrUnknownMetric       = errors.New("metric is not part of this session")
	ErrApprovalMismatch    = errors.New("approval type does not match the pending checkpoint")
	ErrNotAwaitingApproval = errors.New("session is not waiting for approval")
	ErrNoActiveSession     = errors.New("no active session - start an analysis first")
	ErrSessionActive       = errors.New("session already started - restart to analyse a new product")
	ErrSessionClosed       = errors.New("session is finished - restart to continue")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrMessageTooLong      = errors.New("message too long - maximum 10000 characters")
	ErrInvalidInput        = errors.New("invalid product description")
	ErrBusy                = errors.New("a previous action is still in progress")
	ErrSessionNameTooLong  = errors.New("session name too long - maximum 255 characters")

	ErrFrameTooLarge    = errors.New("frame too large - maximum 20MB allowed")
	ErrInvalidFrameType = errors.New("invalid frame type - only png, jpeg, webp, gif allowed")
	ErrFilenameTooLong  = errors.New("filename too long - maximum 255 characters")
	ErrEmptyFrame       = errors.New("frame is empty")
)

// Error is a locally detected precondition violation.
type Error struct {
	Reason error
	Detail string
}

// New wraps reason with an optional detail.
func New(reason error, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Reason }

// IsValidation reports whether err is (or wraps) a validation Error.
func IsValidation(err error) bool {
	var verr *Error
	return errors.As(err, &verr)
}

// ValidateInputContext checks the product description supplied at start.
func ValidateInputContext(in models.InputContext) error {
	sources := 0
	for _, v := range []string{in.URL, in.ImageFrame, in.VideoFrame} {
		if strings.TrimSpace(v) != "" {
			sources++
		}
	}
	if sources > 1 {
		return New(ErrInvalidInput, "provide only one of url, image frame or video frame")
	}
	if sources == 0 && strings.TrimSpace(in.Details) == "" {
		return New(ErrInvalidInput, "a url, frame or product details are required")
	}
	if in.URL != "" {
		u, err := url.Parse(strings.TrimSpace(in.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return New(ErrInvalidInput, "url must be an absolute http(s) address")
		}
	}
	if len(in.Details) > MaxDetailsLength {
		return New(ErrInvalidInput, "details too long - maximum 10000 characters")
	}
	return nil
}

func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return New(ErrEmptyMessage, "")
	}
	if len(text) > MaxMessageLength {
		return New(ErrMessageTooLong, "")
	}
	return nil
}

// AllowedFrameTypes lists the MIME types accepted for uploaded frames.
var AllowedFrameTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

var frameExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// ValidateFrame checks an uploaded screenshot or extracted video frame.
func ValidateFrame(h *multipart.FileHeader) error {
	switch {
	case h.Size == 0:
		return New(ErrEmptyFrame, "")
	case h.Size > MaxFrameSize:
		return New(ErrFrameTooLarge, "")
	case len(h.Filename) > maxFilenameLen:
		return New(ErrFilenameTooLong, "")
	}
	if ct := FrameContentType(h); !AllowedFrameTypes[ct] {
		return New(ErrInvalidFrameType, ct)
	}
	return nil
}

// FrameContentType is the declared MIME type of an upload, or the type
// implied by its extension when the client sent none or a generic one.
func FrameContentType(h *multipart.FileHeader) string {
	ct := strings.ToLower(strings.TrimSpace(h.Header.Get("Content-Type")))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = GuessContentType(h.Filename)
	}
	return ct
}

func GuessContentType(filename string) string {
	if ct, ok := frameExtensions[strings.ToLower(path.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

func ValidateSessionName(name string) error {
	if utf8.RuneCountInString(name) > MaxSessionNameLen {
		return New(ErrSessionNameTooLong, "")
	}
	return nil
}
