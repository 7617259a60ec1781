package sos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"panic-button/data"

	"github.com/sirupsen/logrus"
)

// AlertTransport delivers an alert payload to the intake endpoint.
type AlertTransport interface {
	Submit(ctx context.Context, payload data.AlertPayload) error
}

// HTTPTransport posts alert payloads as JSON.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	logger   logrus.FieldLogger
}

// Submit performs a single POST request. It does not retry.
func (transport *HTTPTransport) Submit(ctx context.Context, payload data.AlertPayload) error {
	body, err := json.Marshal(payload)

	if err != nil {
		return fmt.Errorf("couldn't serialize the alert payload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, transport.endpoint, bytes.NewReader(body))

	if err != nil {
		return newFailure(SubmissionNetworkError, err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := transport.client.Do(request)
	transport.handleRequestError(err)

	if err != nil {
		return newFailure(SubmissionNetworkError, err)
	}
	defer response.Body.Close()

	// Drain the body so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		err = &Failure{
			Kind:       SubmissionRejected,
			StatusCode: response.StatusCode,
		}
		transport.handleRejectedError(err)

		return err
	}

	transport.logger.WithFields(logrus.Fields{
		"status":  response.StatusCode,
		"user_id": payload.UserID,
	}).Info("Alert delivered")

	return nil
}

// NewHTTPTransport creates a transport posting to the endpoint.
// A zero timeout leaves the request unbounded.
func NewHTTPTransport(endpoint string, timeout time.Duration, logger logrus.FieldLogger) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (transport *HTTPTransport) handleRequestError(err error) {
	if err != nil {
		transport.logger.WithError(err).Error("Couldn't send the alert to the intake endpoint")
	}
}

func (transport *HTTPTransport) handleRejectedError(err error) {
	if err != nil {
		transport.logger.WithError(err).Error("The intake endpoint rejected the alert")
	}
}
