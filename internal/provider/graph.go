package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/mail-courier/internal/credentials"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"go.uber.org/zap"
)

const (
	graphProviderName        = "graph"
	defaultGraphTimeout      = 30 * time.Second
	defaultGraphBatchLimit   = 20
	defaultGraphMaxAttempts  = 3
	defaultGraphRetryDelayMS = 500
)

// GraphProvider delivers notifications through a Graph-style JSON batching
// endpoint. It is stateless: every Deliver call groups records into batched
// requests, classifies each sub-response, and retries the transient subset
// with linear backoff until the attempt budget runs out.
type GraphProvider struct {
	client      *resty.Client
	endpoint    string
	batchLimit  int
	maxAttempts int
	retryDelay  time.Duration
	tokens      credentials.TokenSource
	accounts    map[string]string
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewGraphProvider(
	endpoint string,
	tokens credentials.TokenSource,
	accounts map[string]string,
	batchLimit int,
	maxAttempts int,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*GraphProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultGraphTimeout)
	client.SetRetryCount(0)

	return NewGraphProviderWithClient(endpoint, tokens, accounts, batchLimit, maxAttempts, client, logger, metrics)
}

func NewGraphProviderWithClient(
	endpoint string,
	tokens credentials.TokenSource,
	accounts map[string]string,
	batchLimit int,
	maxAttempts int,
	client *resty.Client,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*GraphProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("graph endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid graph endpoint: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if batchLimit < 1 {
		batchLimit = defaultGraphBatchLimit
	}
	if maxAttempts < 1 {
		maxAttempts = defaultGraphMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client.SetRetryCount(0)
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGraphTimeout)
	}

	return &GraphProvider{
		client:      client,
		endpoint:    trimmedEndpoint,
		batchLimit:  batchLimit,
		maxAttempts: maxAttempts,
		retryDelay:  defaultGraphRetryDelayMS * time.Millisecond,
		tokens:      tokens,
		accounts:    accounts,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (p *GraphProvider) Name() string { return graphProviderName }

func (p *GraphProvider) Deliver(ctx context.Context, application string, records []*domain.Notification) ([]Outcome, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	authHeader := p.tokens.GetAuthHeader(ctx, application)
	if authHeader == "" {
		// A call without a credential cannot succeed; fail the whole batch
		// without touching the network.
		p.logger.Error("no active credential for application, failing batch",
			zap.String("application", application),
			zap.Int("records", len(records)),
		)

		outcomes := make([]Outcome, 0, len(records))
		for _, record := range records {
			outcomes = append(outcomes, failureOutcome(
				record.ID,
				fmt.Errorf("no active credential for application %q", application),
				false,
				0,
			))
		}
		return outcomes, nil
	}

	account := p.accounts[strings.ToLower(strings.TrimSpace(application))]

	resultsByID := make(map[string]Outcome, len(records))
	var exhaustedIDs []string
	attemptsUsed := 0

	for start := 0; start < len(records); start += p.batchLimit {
		end := start + p.batchLimit
		if end > len(records) {
			end = len(records)
		}

		chunkExhausted, attempts := p.deliverChunk(ctx, authHeader, account, records[start:end], resultsByID)
		exhaustedIDs = append(exhaustedIDs, chunkExhausted...)
		if attempts > attemptsUsed {
			attemptsUsed = attempts
		}
	}

	outcomes := make([]Outcome, 0, len(records))
	for _, record := range records {
		outcome, ok := resultsByID[record.ID]
		if !ok {
			outcome = failureOutcome(record.ID, fmt.Errorf("no response for sub-request %q", record.ID), true, 0)
		}
		outcomes = append(outcomes, outcome)
	}

	if len(exhaustedIDs) > 0 {
		return outcomes, &BatchError{FailedIDs: exhaustedIDs, Attempts: attemptsUsed}
	}
	return outcomes, nil
}

// deliverChunk drives one batched request to completion, retrying the
// transient subset. Finalized outcomes land in resultsByID; ids whose
// retries were exhausted are returned so the caller can raise a BatchError.
func (p *GraphProvider) deliverChunk(
	ctx context.Context,
	authHeader string,
	account string,
	chunk []*domain.Notification,
	resultsByID map[string]Outcome,
) ([]string, int) {
	pending := make([]*domain.Notification, len(chunk))
	copy(pending, chunk)

	start := p.now()
	attempt := 0

	for attempt < p.maxAttempts && len(pending) > 0 {
		attempt++

		if attempt > 1 {
			p.metrics.IncBatchRetry()
			if err := p.sleep(ctx, time.Duration(attempt-1)*p.retryDelay); err != nil {
				// The caller pulled the plug mid-backoff; the records still
				// pending were neither delivered nor rejected.
				for _, record := range pending {
					resultsByID[record.ID] = canceledOutcome(record.ID, err)
				}
				return nil, attempt
			}
		}

		response, err := p.post(ctx, authHeader, account, pending)
		if err != nil {
			if IsCanceled(err) {
				for _, record := range pending {
					resultsByID[record.ID] = canceledOutcome(record.ID, err)
				}
				return nil, attempt
			}

			p.logger.Warn("graph batch request failed",
				zap.Int("attempt", attempt),
				zap.Int("pending", len(pending)),
				zap.Error(err),
			)
			continue
		}

		pending = p.classifyResponses(response, pending, account, resultsByID, p.now().Sub(start))
	}

	exhausted := make([]string, 0, len(pending))
	for _, record := range pending {
		resultsByID[record.ID] = failureOutcome(
			record.ID,
			fmt.Errorf("sub-request still transient after %d attempts", attempt),
			true,
			p.now().Sub(start),
		)
		exhausted = append(exhausted, record.ID)
	}

	return exhausted, attempt
}

// classifyResponses finalizes successes and permanent failures and returns
// the records whose sub-responses were transient.
func (p *GraphProvider) classifyResponses(
	response *graphBatchResponse,
	pending []*domain.Notification,
	account string,
	resultsByID map[string]Outcome,
	elapsed time.Duration,
) []*domain.Notification {
	responsesByID := make(map[string]graphSubResponse, len(response.Responses))
	for _, sub := range response.Responses {
		responsesByID[sub.ID] = sub
	}

	stillPending := make([]*domain.Notification, 0, len(pending))
	for _, record := range pending {
		sub, ok := responsesByID[record.ID]
		if !ok {
			// A missing sub-response is indistinguishable from a dropped
			// request; treat it the same as a transient failure.
			stillPending = append(stillPending, record)
			continue
		}

		switch {
		case sub.Status >= http.StatusOK && sub.Status < http.StatusMultipleChoices:
			p.metrics.IncDeliverySent(graphProviderName)
			p.metrics.ObserveDeliveryDuration(graphProviderName, elapsed)
			resultsByID[record.ID] = successOutcome(record.ID, account, elapsed)

		case isTransientHTTPStatus(sub.Status):
			stillPending = append(stillPending, record)

		default:
			p.metrics.IncDeliveryFailed(graphProviderName, "rejected")
			resultsByID[record.ID] = failureOutcome(
				record.ID,
				&Error{StatusCode: sub.Status, Message: subResponseErrorMessage(sub)},
				false,
				elapsed,
			)
		}
	}

	return stillPending
}

func (p *GraphProvider) post(ctx context.Context, authHeader string, account string, records []*domain.Notification) (*graphBatchResponse, error) {
	request := graphBatchRequest{Requests: make([]graphSubRequest, 0, len(records))}
	for _, record := range records {
		request.Requests = append(request.Requests, graphSubRequest{
			ID:      record.ID,
			Method:  http.MethodPost,
			URL:     fmt.Sprintf("/users/%s/sendMail", sendingAccount(account, record)),
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    sendMailBody(record),
		})
	}

	var parsed graphBatchResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", authHeader).
		SetHeader("Content-Type", "application/json").
		SetBody(request).
		SetResult(&parsed).
		Post(p.endpoint)
	if err != nil {
		return nil, &Error{Message: "graph batch request failed", Transient: !IsCanceled(err), Cause: err}
	}
	if response == nil {
		return nil, &Error{Message: "graph returned empty response", Transient: true}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &Error{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("graph batch endpoint returned status %d", statusCode),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	return &parsed, nil
}

func sendingAccount(account string, record *domain.Notification) string {
	if account != "" {
		return account
	}
	return record.From
}

type graphBatchRequest struct {
	Requests []graphSubRequest `json:"requests"`
}

type graphSubRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    graphSendMail     `json:"body"`
}

type graphBatchResponse struct {
	Responses []graphSubResponse `json:"responses"`
}

type graphSubResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type graphSendMail struct {
	Message         graphMessage `json:"message"`
	SaveToSentItems bool         `json:"saveToSentItems"`
}

type graphMessage struct {
	Subject       string            `json:"subject"`
	Body          graphItemBody     `json:"body"`
	ToRecipients  []graphRecipient  `json:"toRecipients"`
	CcRecipients  []graphRecipient  `json:"ccRecipients,omitempty"`
	BccRecipients []graphRecipient  `json:"bccRecipients,omitempty"`
	ReplyTo       []graphRecipient  `json:"replyTo,omitempty"`
	Attachments   []graphAttachment `json:"attachments,omitempty"`
}

type graphItemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Address string `json:"address"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

func sendMailBody(record *domain.Notification) graphSendMail {
	contentType := "Text"
	if record.BodyIsHTML {
		contentType = "HTML"
	}

	message := graphMessage{
		Subject: record.Subject,
		Body: graphItemBody{
			ContentType: contentType,
			Content:     record.Body,
		},
		ToRecipients:  recipients(record.To),
		CcRecipients:  recipients(record.Cc),
		BccRecipients: recipients(record.Bcc),
	}
	if strings.TrimSpace(record.ReplyTo) != "" {
		message.ReplyTo = recipients([]string{record.ReplyTo})
	}

	for _, attachment := range record.Attachments {
		message.Attachments = append(message.Attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         attachment.Name,
			ContentType:  attachment.ContentType,
			ContentBytes: attachment.Content,
		})
	}

	return graphSendMail{Message: message}
}

func recipients(addresses []string) []graphRecipient {
	if len(addresses) == 0 {
		return nil
	}

	out := make([]graphRecipient, 0, len(addresses))
	for _, address := range addresses {
		out = append(out, graphRecipient{EmailAddress: graphEmailAddress{Address: address}})
	}
	return out
}

func subResponseErrorMessage(sub graphSubResponse) string {
	base := fmt.Sprintf("graph sub-request rejected with status %d", sub.Status)
	if len(sub.Body) == 0 {
		return base
	}

	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(sub.Body, &parsed); err != nil || parsed.Error.Message == "" {
		return base
	}

	if parsed.Error.Code != "" {
		return fmt.Sprintf("%s: %s: %s", base, parsed.Error.Code, parsed.Error.Message)
	}
	return fmt.Sprintf("%s: %s", base, parsed.Error.Message)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
