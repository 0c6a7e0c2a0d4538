package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTrigger отправляет запрос запуска в HTTP-оркестратор.
// Заголовок Idempotency-Key = claim id; 409 означает, что запуск уже есть.
type HTTPTrigger struct {
	client *http.Client
	url    string
}

// NewHTTPTrigger создаёт HTTP-запуск с таймаутом одного запроса.
func NewHTTPTrigger(url string, timeout time.Duration) *HTTPTrigger {
	return NewHTTPTriggerWithClient(&http.Client{Timeout: timeout}, url)
}

// NewHTTPTriggerWithClient создаёт HTTP-запуск с заданным клиентом.
func NewHTTPTriggerWithClient(client *http.Client, url string) *HTTPTrigger {
	return &HTTPTrigger{client: client, url: url}
}

type startResponse struct {
	ExecutionID string `json:"executionId"`
}

// Start реализует Trigger.
func (h *HTTPTrigger) Start(ctx context.Context, req Request) (Execution, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Execution{}, &PermanentError{Err: fmt.Errorf("ошибка сериализации запроса: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Execution{}, &PermanentError{Err: fmt.Errorf("ошибка создания запроса: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ClaimID)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Execution{}, fmt.Errorf("ошибка запроса к оркестратору: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusConflict:
		return Execution{ID: req.ClaimID, AlreadyStarted: true}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var sr startResponse
		if len(respBody) > 0 {
			_ = json.Unmarshal(respBody, &sr)
		}
		if sr.ExecutionID == "" {
			sr.ExecutionID = req.ClaimID
		}
		return Execution{ID: sr.ExecutionID}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return Execution{}, fmt.Errorf("оркестратор вернул %d: %s", resp.StatusCode, truncate(respBody))
	default:
		return Execution{}, &PermanentError{Err: fmt.Errorf("оркестратор отклонил запуск (%d): %s", resp.StatusCode, truncate(respBody))}
	}
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

var _ Trigger = (*HTTPTrigger)(nil)
