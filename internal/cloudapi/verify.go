package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// VerifyStrategy encodes the code for one attempt at the verify endpoint.
type VerifyStrategy struct {
	Name        string
	ContentType string
	Encode      func(code string) ([]byte, error)
}

// DefaultVerifyStrategies tries a form body first and a JSON body second;
// deployments of the upstream accept one or the other.
var DefaultVerifyStrategies = []VerifyStrategy{
	{
		Name:        "form",
		ContentType: "application/x-www-form-urlencoded",
		Encode: func(code string) ([]byte, error) {
			return []byte(url.Values{"code": {code}}.Encode()), nil
		},
	},
	{
		Name:        "json",
		ContentType: "application/json",
		Encode: func(code string) ([]byte, error) {
			return json.Marshal(map[string]string{"code": code})
		},
	},
}

// VerifyLogin submits the emailed code for a pending token. Strategies are
// tried in order; the first verified answer wins and the last failure is
// returned when none succeeds.
func (c *Client) VerifyLogin(ctx context.Context, pendingToken, code string) error {
	return c.VerifyLoginWith(ctx, pendingToken, code, DefaultVerifyStrategies)
}

func (c *Client) VerifyLoginWith(ctx context.Context, pendingToken, code string, strategies []VerifyStrategy) error {
	if len(strategies) == 0 {
		return errors.New("no verify strategies")
	}
	var lastErr error
	for _, strategy := range strategies {
		err := c.verifyOnce(ctx, pendingToken, code, strategy)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info("verify attempt failed", "strategy", strategy.Name, "err", err)
		lastErr = err
	}
	return lastErr
}

func (c *Client) verifyOnce(ctx context.Context, pendingToken, code string, strategy VerifyStrategy) error {
	payload, err := strategy.Encode(code)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", strategy.Name, err)
	}
	body, err := c.send(ctx, request{
		method:      http.MethodPost,
		path:        "/login/verify",
		token:       pendingToken,
		contentType: strategy.ContentType,
		body:        payload,
	})
	if err != nil {
		return fmt.Errorf("verify (%s): %w", strategy.Name, err)
	}
	return interpretVerifyBody(body)
}

// interpretVerifyBody accepts data.email.verified or data.verified. An
// explicit false is a rejection; a 200 answer without either field counts as
// verified.
func interpretVerifyBody(body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	var env struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		// A 200 with a non-JSON body is still a successful answer.
		return nil
	}

	var email map[string]json.RawMessage
	_ = json.Unmarshal(env.Data["email"], &email)
	for _, raw := range []json.RawMessage{email["verified"], env.Data["verified"]} {
		var flag bool
		if len(raw) == 0 || json.Unmarshal(raw, &flag) != nil {
			continue
		}
		if flag {
			return nil
		}
		return ErrVerificationRejected
	}
	return nil
}
