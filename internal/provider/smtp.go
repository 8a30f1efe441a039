package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/relay"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const smtpProviderName = "smtp"

// connectionPool is what the SMTP provider needs from relay.Pool.
type connectionPool interface {
	Acquire(ctx context.Context) (relay.Conn, error)
	Release(conn relay.Conn)
}

// SMTPProvider delivers notifications through a pooled direct relay
// connection. Its retry policy is fixed: a failure classified as transient
// gets the connection refreshed and the send retried exactly once; anything
// else, or a second failure, ends the attempt for that record.
type SMTPProvider struct {
	pool    connectionPool
	account string
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewSMTPProvider(pool connectionPool, account string, logger *zap.Logger, metrics *observability.Metrics) (*SMTPProvider, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPProvider{
		pool:    pool,
		account: account,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func (p *SMTPProvider) Name() string { return smtpProviderName }

func (p *SMTPProvider) Deliver(ctx context.Context, application string, records []*domain.Notification) ([]Outcome, error) {
	if p == nil || p.pool == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	outcomes := make([]Outcome, 0, len(records))
	for _, record := range records {
		if ctx.Err() != nil {
			outcomes = append(outcomes, canceledOutcome(record.ID, ctx.Err()))
			continue
		}

		outcomes = append(outcomes, p.deliverOne(ctx, record))
	}

	return outcomes, nil
}

func (p *SMTPProvider) deliverOne(ctx context.Context, record *domain.Notification) Outcome {
	start := p.now()

	msg, err := buildRelayMessage(record)
	if err != nil {
		return failureOutcome(record.ID, err, false, p.now().Sub(start))
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		if IsCanceled(err) {
			return canceledOutcome(record.ID, err)
		}
		return failureOutcome(record.ID, err, true, p.now().Sub(start))
	}
	defer p.pool.Release(conn)

	sendErr := conn.Send(ctx, msg)
	if sendErr != nil && IsTransient(sendErr) {
		p.logger.Debug("transient relay failure, refreshing connection for one retry",
			zap.String("notificationId", record.ID),
			zap.Error(sendErr),
		)

		if refreshErr := conn.Refresh(ctx); refreshErr != nil {
			sendErr = refreshErr
		} else {
			sendErr = conn.Send(ctx, msg)
		}
	}

	elapsed := p.now().Sub(start)
	if sendErr == nil {
		p.metrics.IncDeliverySent(smtpProviderName)
		p.metrics.ObserveDeliveryDuration(smtpProviderName, elapsed)
		return successOutcome(record.ID, p.account, elapsed)
	}

	if IsCanceled(sendErr) {
		return canceledOutcome(record.ID, sendErr)
	}

	retryable := IsTransient(sendErr)
	reason := "permanent_rejection"
	if retryable {
		reason = "transient_failure"
	}
	p.metrics.IncDeliveryFailed(smtpProviderName, reason)
	p.metrics.ObserveDeliveryDuration(smtpProviderName, elapsed)

	p.logger.Warn("relay delivery failed",
		zap.String("notificationId", record.ID),
		zap.Bool("retryable", retryable),
		zap.Error(sendErr),
	)

	return failureOutcome(record.ID, sendErr, retryable, elapsed)
}

func buildRelayMessage(record *domain.Notification) (*mail.Msg, error) {
	if record == nil {
		return nil, fmt.Errorf("%w: record is required", domain.ErrValidation)
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(record.From); err != nil {
		return nil, fmt.Errorf("%w: invalid sender %q: %v", domain.ErrValidation, record.From, err)
	}
	if err := msg.To(record.To...); err != nil {
		return nil, fmt.Errorf("%w: invalid recipient list: %v", domain.ErrValidation, err)
	}
	if len(record.Cc) > 0 {
		if err := msg.Cc(record.Cc...); err != nil {
			return nil, fmt.Errorf("%w: invalid cc list: %v", domain.ErrValidation, err)
		}
	}
	if len(record.Bcc) > 0 {
		if err := msg.Bcc(record.Bcc...); err != nil {
			return nil, fmt.Errorf("%w: invalid bcc list: %v", domain.ErrValidation, err)
		}
	}
	if strings.TrimSpace(record.ReplyTo) != "" {
		if err := msg.ReplyTo(record.ReplyTo); err != nil {
			return nil, fmt.Errorf("%w: invalid reply-to %q: %v", domain.ErrValidation, record.ReplyTo, err)
		}
	}

	msg.Subject(record.Subject)
	msg.SetBodyString(bodyContentType(record), record.Body)

	if record.Priority == domain.PriorityHigh {
		msg.SetImportance(mail.ImportanceHigh)
	}

	for _, attachment := range record.Attachments {
		content, err := base64.StdEncoding.DecodeString(attachment.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: attachment %q is not valid base64: %v", domain.ErrValidation, attachment.Name, err)
		}

		opts := []mail.FileOption{}
		if ct := strings.TrimSpace(attachment.ContentType); ct != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(ct)))
		}
		if err := msg.AttachReader(attachment.Name, strings.NewReader(string(content)), opts...); err != nil {
			return nil, fmt.Errorf("%w: failed to attach %q: %v", domain.ErrValidation, attachment.Name, err)
		}
	}

	return msg, nil
}

func bodyContentType(record *domain.Notification) mail.ContentType {
	// Meeting invites carry an iCalendar body; the method parameter is what
	// makes mail clients render the accept/decline bar.
	if record.Kind == domain.KindMeet {
		return mail.ContentType("text/calendar; charset=UTF-8; method=REQUEST")
	}
	if record.BodyIsHTML {
		return mail.TypeTextHTML
	}
	return mail.TypeTextPlain
}
