package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the delivery lifecycle state of a notification.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusRetrying   Status = "RETRYING"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusSent, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery attempt will be made
// without an explicit resend.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether the state machine allows moving from s to
// next. The only backward edge is the resend reset handled by
// ResetForResend, which deliberately bypasses this check.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued, StatusRetrying:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusSent || next == StatusFailed || next == StatusRetrying
	default:
		return false
	}
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Kind distinguishes plain mail notifications from meeting invites.
type Kind string

const (
	KindMail Kind = "MAIL"
	KindMeet Kind = "MEET"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	return k == KindMail || k == KindMeet
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid notification kind %q", ErrValidation, s)
	}
	return k, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Attachment is an already-rendered file carried with a notification.
// Content is base64 as produced by the upstream renderer.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// Notification is the persisted record describing one email or meeting
// invite and its delivery state. The pipeline mutates Status, TryCount,
// ErrorMessage and EmailAccountUsed; everything else is owned upstream.
type Notification struct {
	ID               string
	TrackingID       string
	Application      string
	Kind             Kind
	Priority         Priority
	From             string
	ReplyTo          string
	To               []string
	Cc               []string
	Bcc              []string
	Subject          string
	Body             string
	BodyIsHTML       bool
	Attachments      []Attachment
	Status           Status
	TryCount         int
	ErrorMessage     *string
	EmailAccountUsed *string
	SendOnUTC        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.From) == "" {
		return fmt.Errorf("%w: sender address is required", ErrValidation)
	}
	if len(n.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if !n.Kind.IsValid() {
		return fmt.Errorf("%w: invalid notification kind %q", ErrValidation, n.Kind)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	return nil
}

// MarkProcessing moves the record into PROCESSING and counts the attempt.
// TryCount is incremented exactly once per attempt, never decremented.
func (n *Notification) MarkProcessing() {
	n.Status = StatusProcessing
	n.TryCount++
	n.ErrorMessage = nil
}

// ResetForResend is the single operator-initiated backward transition:
// a previously processed record is returned to QUEUED for a fresh attempt.
func (n *Notification) ResetForResend() {
	n.Status = StatusQueued
	n.ErrorMessage = nil
}
