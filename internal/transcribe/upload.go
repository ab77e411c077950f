package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

const maxResponseBytes = 32 << 20

// errUnreachable marks a request that never got an HTTP response.
var errUnreachable = errors.New("server unreachable")

type formField struct {
	name, value string
}

// postAudio streams the WAV at wavPath plus fields as a multipart form to
// url. Fields with an empty value are left out. A transport failure comes
// back wrapping errUnreachable; any HTTP status is returned with its body.
func postAudio(ctx context.Context, client *http.Client, url string, header http.Header, wavPath string, fields ...formField) (int, []byte, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return 0, nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAudioForm(mw, f, filepath.Base(wavPath), fields))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return 0, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return 0, nil, fmt.Errorf("%w: %w", errUnreachable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func writeAudioForm(mw *multipart.Writer, audio io.Reader, name string, fields []formField) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	for _, fld := range fields {
		if fld.value == "" {
			continue
		}
		if err := mw.WriteField(fld.name, fld.value); err != nil {
			return err
		}
	}
	return mw.Close()
}

// snippet trims an error body for messages.
func snippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
