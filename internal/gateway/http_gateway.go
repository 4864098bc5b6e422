package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/lodgeline/lodgeline/internal/logging"
	"github.com/lodgeline/lodgeline/internal/message"
)

const defaultHTTPTimeout = 15 * time.Second

// HTTPGateway talks to the property-management REST API. The server
// derives the local user from the bearer token, so fetches carry no
// explicit user id.
type HTTPGateway struct {
	client *resty.Client
	log    zerolog.Logger
}

// HTTPConfig configures an HTTPGateway.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// NewHTTPGateway builds a gateway over the REST API at cfg.BaseURL.
func NewHTTPGateway(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &HTTPGateway{
		client: client,
		log:    logging.Component("gateway.http"),
	}, nil
}

type fetchResponse struct {
	Messages   []message.Message `json:"messages"`
	Pagination struct {
		Total int `json:"total"`
		Page  int `json:"page"`
		Limit int `json:"limit"`
	} `json:"pagination"`
}

type ackResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// Fetch implements Gateway.
func (g *HTTPGateway) Fetch(ctx context.Context, dir Direction, f Filters) (Page, error) {
	params := map[string]string{
		"direction": string(dir),
	}
	if f.Page > 0 {
		params["page"] = strconv.Itoa(f.Page)
	}
	if f.Limit > 0 {
		params["limit"] = strconv.Itoa(f.Limit)
	}
	if f.CounterpartyID != "" {
		params["counterpartyId"] = f.CounterpartyID
	}
	if f.PropertyID != "" {
		params["propertyId"] = f.PropertyID
	}

	var body fetchResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&body).
		Get("/messages")
	if err := g.check(resp, err, "fetch messages"); err != nil {
		return Page{}, err
	}
	return Page{
		Messages: body.Messages,
		Total:    body.Pagination.Total,
		Page:     body.Pagination.Page,
		Limit:    body.Pagination.Limit,
	}, nil
}

// Send implements Gateway.
func (g *HTTPGateway) Send(ctx context.Context, in message.SendInput) (message.Message, error) {
	if err := in.Validate(); err != nil {
		return message.Message{}, err
	}
	var body message.Message
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&body).
		Post("/messages")
	if err := g.check(resp, err, "send message"); err != nil {
		return message.Message{}, err
	}
	return body, nil
}

// MarkMessageRead implements Gateway.
func (g *HTTPGateway) MarkMessageRead(ctx context.Context, id string) (int, error) {
	var body ackResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&body).
		Patch("/messages/" + id + "/read")
	if err := g.check(resp, err, "mark message read"); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// MarkConversationRead implements Gateway.
func (g *HTTPGateway) MarkConversationRead(ctx context.Context, counterpartyID string) (int, error) {
	var body ackResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&body).
		Patch("/messages/conversations/" + counterpartyID + "/read")
	if err := g.check(resp, err, "mark conversation read"); err != nil {
		return 0, err
	}
	return body.Count, nil
}

// Delete implements Gateway.
func (g *HTTPGateway) Delete(ctx context.Context, id string) error {
	var body ackResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&body).
		Delete("/messages/" + id)
	return g.check(resp, err, "delete message")
}

// check maps transport outcomes onto the engine error taxonomy:
// network failures and 5xx are transient, 404 is a stale write.
func (g *HTTPGateway) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		g.log.Debug().Str("op", op).Msg(logging.Redact(err.Error()))
		return fmt.Errorf("%w: %s", message.ErrTransient, op)
	}
	if resp == nil || !resp.IsError() {
		return nil
	}
	status := resp.StatusCode()
	g.log.Debug().Str("op", op).Int("status", status).Msg(logging.Redact(string(resp.Body())))
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", message.ErrStaleWrite, op)
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %d", message.ErrTransient, op, status)
	default:
		return fmt.Errorf("%s: unexpected status %d", op, status)
	}
}
