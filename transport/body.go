package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// replayable returns a copy of req whose body can be re-read through GetBody.
// Requests built by http.NewRequest from in-memory readers already qualify.
func replayable(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return out, nil
	}
	data, err := io.ReadAll(req.Body)
	closeErr := req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("[transport] buffer request body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("[transport] close request body: %w", closeErr)
	}
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	out.Body, _ = out.GetBody()
	out.ContentLength = int64(len(data))
	return out, nil
}

// rewind returns a copy of req with a fresh body for a re-send.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody == nil {
		return out, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("[transport] rewind request body: %w", err)
	}
	out.Body = body
	return out, nil
}

// discard drains and closes a response that will not reach the caller so the
// connection can be reused.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
