package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EncodeRequest marshals req as one newline-terminated JSON line.
func EncodeRequest(req Request) ([]byte, error) {
	if req.Operation == "" {
		return nil, errors.New("encode request: operation is empty")
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.Operation, err)
	}
	return append(data, '\n'), nil
}

// EncodeResponse marshals resp as one newline-terminated JSON line.
func EncodeResponse(resp Response) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a request line read by the worker.
func DecodeRequest(line []byte) (Request, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Request{}, &ProtocolError{Kind: KindMalformedRequest, Err: errors.New("empty request line")}
	}
	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, &ProtocolError{Kind: KindMalformedRequest, Raw: string(trimmed), Err: err}
	}
	if req.Operation == "" {
		return Request{}, &ProtocolError{Kind: KindMalformedRequest, Raw: string(trimmed), Err: errors.New("missing Operation")}
	}
	return req, nil
}

// DecodeResponse parses a response line read by the controller. An empty
// line is reported as KindEmptyResponse, anything unparsable as
// KindMalformedResponse carrying the raw text.
func DecodeResponse(line []byte) (Response, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Response{}, &ProtocolError{Kind: KindEmptyResponse}
	}
	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return Response{}, &ProtocolError{Kind: KindMalformedResponse, Raw: string(trimmed), Err: err}
	}
	if err := resp.Validate(); err != nil {
		return Response{}, &ProtocolError{Kind: KindMalformedResponse, Raw: string(trimmed), Err: err}
	}
	return resp, nil
}

// NewLineScanner returns a scanner over r that accepts envelope lines up to
// MaxLineBytes.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return s
}
