package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/relay"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

type scriptedConn struct {
	sendErrs     []error
	sendCalls    int
	refreshCalls int
	refreshErr   error
	closed       bool
}

func (c *scriptedConn) Send(ctx context.Context, msg *mail.Msg) error {
	idx := c.sendCalls
	c.sendCalls++
	if idx < len(c.sendErrs) {
		return c.sendErrs[idx]
	}
	return nil
}

func (c *scriptedConn) Refresh(ctx context.Context) error {
	c.refreshCalls++
	return c.refreshErr
}

func (c *scriptedConn) Close() error {
	c.closed = true
	return nil
}

type fakePool struct {
	conn         *scriptedConn
	acquireErr   error
	acquireCalls int
	releaseCalls int
}

func (p *fakePool) Acquire(ctx context.Context) (relay.Conn, error) {
	p.acquireCalls++
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.conn, nil
}

func (p *fakePool) Release(conn relay.Conn) {
	p.releaseCalls++
}

func mailRecord(id string) *domain.Notification {
	return &domain.Notification{
		ID:       id,
		Kind:     domain.KindMail,
		Priority: domain.PriorityNormal,
		From:     "noreply@example.com",
		To:       []string{"user@example.com"},
		Subject:  "subject",
		Body:     "body",
	}
}

func TestSMTPProviderDeliverSuccess(t *testing.T) {
	t.Parallel()

	pool := &fakePool{conn: &scriptedConn{}}
	p, err := NewSMTPProvider(pool, "relay-account", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	outcomes, err := p.Deliver(context.Background(), "crm", []*domain.Notification{mailRecord("n1")})
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if !outcomes[0].Delivered {
		t.Fatalf("outcome not delivered: %+v", outcomes[0])
	}
	if outcomes[0].AccountUsed != "relay-account" {
		t.Fatalf("account used = %q, want relay-account", outcomes[0].AccountUsed)
	}
	if pool.releaseCalls != 1 {
		t.Fatalf("release calls = %d, want 1", pool.releaseCalls)
	}
}

func TestSMTPProviderRetriesOnceOnTransientFailure(t *testing.T) {
	t.Parallel()

	conn := &scriptedConn{sendErrs: []error{&Error{Message: "broken pipe", Transient: true}}}
	pool := &fakePool{conn: conn}
	p, err := NewSMTPProvider(pool, "relay-account", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	outcomes, err := p.Deliver(context.Background(), "crm", []*domain.Notification{mailRecord("n1")})
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if conn.refreshCalls != 1 {
		t.Fatalf("refresh calls = %d, want exactly 1", conn.refreshCalls)
	}
	if conn.sendCalls != 2 {
		t.Fatalf("send calls = %d, want 2", conn.sendCalls)
	}
	if !outcomes[0].Delivered {
		t.Fatalf("retry should have succeeded: %+v", outcomes[0])
	}
}

func TestSMTPProviderTwoTransientFailuresEndAttempt(t *testing.T) {
	t.Parallel()

	conn := &scriptedConn{sendErrs: []error{
		&Error{Message: "connection reset", Transient: true},
		&Error{Message: "connection reset again", Transient: true},
	}}
	pool := &fakePool{conn: conn}
	p, err := NewSMTPProvider(pool, "relay-account", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	outcomes, err := p.Deliver(context.Background(), "crm", []*domain.Notification{mailRecord("n1")})
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if conn.sendCalls != 2 {
		t.Fatalf("send calls = %d, want 2 (no second retry)", conn.sendCalls)
	}
	if outcomes[0].Delivered {
		t.Fatal("attempt should have failed")
	}
	if !outcomes[0].Retryable {
		t.Fatal("a still-transient failure stays eligible for a later attempt")
	}
	if pool.releaseCalls != 1 {
		t.Fatalf("release calls = %d, want 1 (release regardless of outcome)", pool.releaseCalls)
	}
}

func TestSMTPProviderPermanentRejectionIsNotRetried(t *testing.T) {
	t.Parallel()

	rejection := &Error{StatusCode: 550, Message: "5.1.1 recipient address rejected", Transient: false}
	conn := &scriptedConn{sendErrs: []error{rejection}}
	pool := &fakePool{conn: conn}
	p, err := NewSMTPProvider(pool, "relay-account", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	outcomes, err := p.Deliver(context.Background(), "crm", []*domain.Notification{mailRecord("n1")})
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if conn.refreshCalls != 0 {
		t.Fatalf("refresh calls = %d, want 0", conn.refreshCalls)
	}
	if conn.sendCalls != 1 {
		t.Fatalf("send calls = %d, want 1", conn.sendCalls)
	}
	if outcomes[0].Retryable {
		t.Fatal("permanent rejection must not be marked retryable")
	}
	if outcomes[0].ErrorMessage != rejection.Error() {
		t.Fatalf("error message = %q, want the rejection preserved verbatim", outcomes[0].ErrorMessage)
	}
}

func TestSMTPProviderCanceledContext(t *testing.T) {
	t.Parallel()

	pool := &fakePool{conn: &scriptedConn{}}
	p, err := NewSMTPProvider(pool, "relay-account", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := p.Deliver(ctx, "crm", []*domain.Notification{mailRecord("n1"), mailRecord("n2")})
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	for _, outcome := range outcomes {
		if !outcome.Canceled {
			t.Fatalf("outcome should be canceled, got %+v", outcome)
		}
		if outcome.Delivered {
			t.Fatal("canceled outcome must not be delivered")
		}
	}
	if pool.acquireCalls != 0 {
		t.Fatalf("acquire calls = %d, want 0 on canceled context", pool.acquireCalls)
	}
}

func TestSMTPProviderInvalidRecordFailsWithoutPool(t *testing.T) {
	t.Parallel()

	pool := &fakePool{conn: &scriptedConn{}}
	p, err := NewSMTPProvider(pool, "relay-account", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("NewSMTPProvider() error = %v", err)
	}

	record := mailRecord("n1")
	record.To = nil

	outcomes, err := p.Deliver(context.Background(), "crm", []*domain.Notification{record})
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if outcomes[0].Delivered || outcomes[0].Retryable {
		t.Fatalf("invalid record should fail permanently, got %+v", outcomes[0])
	}
	if pool.acquireCalls != 0 {
		t.Fatalf("acquire calls = %d, want 0 for an unbuildable message", pool.acquireCalls)
	}
}

func TestIsTransientClassification(t *testing.T) {
	t.Parallel()

	if IsTransient(context.Canceled) {
		t.Fatal("cancellation must not be classified as transient")
	}
	if !IsTransient(&relay.InitializationError{Cause: errors.New("dial tcp: refused")}) {
		t.Fatal("initialization failures are transient")
	}
	if !IsTransient(&Error{Transient: true}) {
		t.Fatal("explicit transient flag must be honored")
	}
	if IsTransient(&Error{Transient: false}) {
		t.Fatal("explicit permanent flag must be honored")
	}
	if IsTransient(errors.New("unclassified")) {
		t.Fatal("unknown errors default to permanent")
	}
}

func TestBuildRelayMessageMeetingInvite(t *testing.T) {
	t.Parallel()

	record := mailRecord("n1")
	record.Kind = domain.KindMeet
	record.Body = "BEGIN:VCALENDAR\r\nEND:VCALENDAR"

	msg, err := buildRelayMessage(record)
	if err != nil {
		t.Fatalf("buildRelayMessage() error = %v", err)
	}
	if msg == nil {
		t.Fatal("message should be built")
	}

	if got := bodyContentType(record); got != mail.ContentType("text/calendar; charset=UTF-8; method=REQUEST") {
		t.Fatalf("content type = %q, want calendar REQUEST", got)
	}
}
