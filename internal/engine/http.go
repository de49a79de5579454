package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yokitheyo/segscribe/internal/model"
)

// HTTP posts each segment to a model server that keeps its weights loaded.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP checks that the server answers and returns a client for it.
func NewHTTP(ctx context.Context, url string, timeout time.Duration) (*HTTP, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("engine url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	h := &HTTP{url: url, client: &http.Client{Timeout: timeout}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("probe %s: http %d", url, resp.StatusCode)
	}
	return h, nil
}

func (h *HTTP) Transcribe(ctx context.Context, req Request) ([]model.Span, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, &Error{Stage: "transcribe", Message: fmt.Sprintf("cannot access audio: %s", req.AudioPath), Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	wire := toWire(req)
	fields := map[string]string{
		"speakers":  strconv.Itoa(wire.Speakers),
		"language":  wire.Language,
		"hot_words": wire.HotWords,
		"domain":    wire.Domain,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Stage: "transcribe", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &Error{Stage: "transcribe", Message: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Stage: "transcribe", Message: "decode response", Err: err}
	}
	if out.Error != "" {
		return nil, &Error{Stage: "transcribe", Message: out.Error}
	}
	return toSpans(out.Segments), nil
}
