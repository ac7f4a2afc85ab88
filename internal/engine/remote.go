package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Remote runs stages on an external engine over HTTP. The engine and the
// orchestrator share the artifact store, so only refs cross the wire.
//
//	POST {base}/stages/{stage}   Request JSON -> Result JSON
//	GET  {base}/ready
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Engine = (*Remote)(nil)

// NewRemote creates a remote engine client. token is sent as a bearer token
// when non-empty.
func NewRemote(baseURL, token string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *Remote) Name() string { return "remote" }

type remoteError struct {
	Error string `json:"error"`
}

func (e *Remote) RunStage(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding stage request: %w", err)
	}

	u := fmt.Sprintf("%s/stages/%s", e.baseURL, url.PathEscape(string(req.Stage)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	e.setHeaders(httpReq)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: status %d", ErrEngineUnreachable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%w: %s", ErrStageRejected, readRemoteError(resp))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding stage response: %w", err)
	}
	if result.Ref == "" {
		return Result{}, fmt.Errorf("%w: response has no ref", ErrStageRejected)
	}
	if req.Stage == models.StageApplying && result.ReportRef == "" {
		return Result{}, fmt.Errorf("%w: applying response has no report_ref", ErrStageRejected)
	}
	return result, nil
}

// Ready checks that the remote engine is accepting work.
func (e *Remote) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	e.setHeaders(httpReq)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: engine not ready (status %d)", ErrEngineUnreachable, resp.StatusCode)
	}
	return nil
}

func (e *Remote) setHeaders(req *http.Request) {
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
}

func readRemoteError(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var re remoteError
	if json.Unmarshal(data, &re) == nil && re.Error != "" {
		return re.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("remote stage call cancelled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
}
