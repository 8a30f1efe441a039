package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/queue"
)

const defaultProcessorTimeout = 30 * time.Second

// RemoteProcessor delegates delivery jobs to an out-of-process delivery API
// exposing POST /{notifType}/process/{application}.
type RemoteProcessor struct {
	client  *resty.Client
	baseURL string
}

func NewRemoteProcessor(baseURL string) (*RemoteProcessor, error) {
	client := resty.New()
	client.SetTimeout(defaultProcessorTimeout)
	client.SetRetryCount(0)

	return NewRemoteProcessorWithClient(baseURL, client)
}

func NewRemoteProcessorWithClient(baseURL string, client *resty.Client) (*RemoteProcessor, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("processor base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid processor base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProcessorTimeout)
	}
	client.SetRetryCount(0)

	return &RemoteProcessor{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (p *RemoteProcessor) Process(ctx context.Context, job domain.DeliveryJob) ([]domain.DeliveryResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("processor is not initialized")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	msg := queue.NewJobMessage(job)
	endpoint := fmt.Sprintf("%s/%s/process/%s",
		p.baseURL,
		strings.ToLower(job.Kind.String()),
		url.PathEscape(job.Application),
	)

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(msg).
		Post(endpoint)
	if err != nil {
		return nil, &ProcessorCommError{Cause: err}
	}
	if response == nil {
		return nil, &ProcessorCommError{Cause: fmt.Errorf("empty response")}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("processor returned status %d: %s",
			statusCode, strings.TrimSpace(response.String()))
	}

	var results []domain.DeliveryResult
	if err := json.Unmarshal(response.Body(), &results); err != nil {
		return nil, fmt.Errorf("failed to decode processor response: %w", err)
	}

	return results, nil
}
