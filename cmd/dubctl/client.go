package main

import (
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

	"github.com/jonatasu/dubby/internal/api"
)

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimSuffix(base, "/"),
		token: token,
		http:  &http.Client{},
	}
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status int
	Body   api.ErrorResponse
}

func (e *apiError) Error() string {
	msg := e.Body.Error
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Body.Detail != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.Status, msg, e.Body.Detail)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, msg)
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&apiErr.Body)
		return nil, apiErr
	}
	return resp, nil
}

// getJSON decodes the response of a GET into out.
func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, out)
}

func (c *apiClient) sendJSON(ctx context.Context, method, path string, out any) error {
	resp, err := c.do(ctx, method, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// processOptions are the form fields of a process request.
type processOptions struct {
	SrcLang   string
	DstLang   string
	AudioOnly bool
	Async     bool
}

// process uploads input and returns the server's response: the dubbed file
// for a synchronous request, the queued job as JSON for an async one.
func (c *apiClient) process(ctx context.Context, input string, opts processOptions) (*http.Response, error) {
	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		pw.CloseWithError(writeForm(mw, f, filepath.Base(input), opts))
	}()

	path := "/api/v1/process"
	if opts.Async {
		path += "?async=true"
	}
	resp, err := c.do(ctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	return resp, nil
}

func writeForm(mw *multipart.Writer, r io.Reader, name string, opts processOptions) error {
	fields := map[string]string{
		"src_lang":   opts.SrcLang,
		"dst_lang":   opts.DstLang,
		"audio_only": strconv.FormatBool(opts.AudioOnly),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}
