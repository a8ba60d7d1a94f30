package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicelane/warmline/internal/reliability"
)

// HTTPAdapter forwards turn requests to a capability-compatible endpoint.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (a *HTTPAdapter) NextTurn(ctx context.Context, req TurnRequest) (TurnReply, error) {
	reply, err := a.send(ctx, req)
	if err == nil {
		return reply, nil
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && reliability.IsRetryableHTTPStatus(statusErr.code) {
		select {
		case <-ctx.Done():
			return TurnReply{}, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(1, 150*time.Millisecond, time.Second)):
		}
		return a.send(ctx, req)
	}
	return TurnReply{}, err
}

func (a *HTTPAdapter) send(ctx context.Context, req TurnRequest) (TurnReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return TurnReply{}, fmt.Errorf("marshal turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return TurnReply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return TurnReply{}, fmt.Errorf("send turn request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return TurnReply{}, &httpStatusError{code: res.StatusCode, body: string(body)}
	}

	var reply TurnReply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return TurnReply{}, fmt.Errorf("decode turn reply: %w", err)
	}
	return reply, nil
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("brain http status %d: %s", e.code, e.body)
}
