package protocol_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"uibridge/pkg/protocol"
)

func TestParams_PreserveOrder(t *testing.T) {
	p := protocol.NewParams("zeta", 1, "alpha", "two", "mid", []int{3})

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"zeta":1,"alpha":"two","mid":[3]}`
	if string(data) != want {
		t.Fatalf("marshal = %s, want %s", data, want)
	}

	var back protocol.Params
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	keys := back.Keys()
	if len(keys) != 3 || keys[0] != "zeta" || keys[1] != "alpha" || keys[2] != "mid" {
		t.Fatalf("unexpected key order: %v", keys)
	}

	again, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if string(again) != want {
		t.Fatalf("re-marshal = %s, want %s", again, want)
	}
}

func TestParams_SetReplacesInPlace(t *testing.T) {
	p := protocol.NewParams("a", 1, "b", 2)
	p = p.Set("a", 10)
	p = p.Set("c", 3)

	if keys := p.Keys(); len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	var a int
	if err := p.Decode("a", &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a != 10 {
		t.Fatalf("expected a=10, got %d", a)
	}
}

func TestParams_DecodeFromWire(t *testing.T) {
	var p protocol.Params
	if err := json.Unmarshal([]byte(`{"id":"42.1.7","depth":3,"big":12345678901234567890}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	var id string
	if err := p.Decode("id", &id); err != nil || id != "42.1.7" {
		t.Fatalf("decode id = %q, %v", id, err)
	}
	var depth int
	if err := p.Decode("depth", &depth); err != nil || depth != 3 {
		t.Fatalf("decode depth = %d, %v", depth, err)
	}
	big, _ := p.Get("big")
	if raw, ok := big.(json.RawMessage); !ok || string(raw) != "12345678901234567890" {
		t.Fatalf("expected big number kept verbatim, got %v", big)
	}
	if err := p.Decode("missing", &id); err == nil {
		t.Fatal("expected error for missing parameter")
	}
}

func TestParams_NullAndNonObject(t *testing.T) {
	var p protocol.Params
	if err := json.Unmarshal([]byte(`null`), &p); err != nil {
		t.Fatalf("null should decode: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil params, got %v", p)
	}
	if err := json.Unmarshal([]byte(`[1,2]`), &p); err == nil {
		t.Fatal("expected error for array parameters")
	}

	data, err := json.Marshal(protocol.Params(nil))
	if err != nil || string(data) != "{}" {
		t.Fatalf("nil params marshal = %s, %v", data, err)
	}
}

func TestEncodeRequest_SingleLine(t *testing.T) {
	req := protocol.Request{
		Operation:  "SetValue",
		Parameters: protocol.NewParams("text", "line one\nline two"),
	}
	line, err := protocol.EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Count(line, []byte("\n")) != 1 || line[len(line)-1] != '\n' {
		t.Fatalf("expected exactly one trailing newline, got %q", line)
	}

	back, err := protocol.DecodeRequest(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var text string
	if err := back.Parameters.Decode("text", &text); err != nil || text != "line one\nline two" {
		t.Fatalf("round trip text = %q, %v", text, err)
	}
}

func TestEncodeRequest_RejectsEmptyOperation(t *testing.T) {
	if _, err := protocol.EncodeRequest(protocol.Request{}); err == nil {
		t.Fatal("expected error for empty operation")
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	for _, line := range []string{"", "not json", `{"Parameters":{}}`} {
		_, err := protocol.DecodeRequest([]byte(line))
		var pe *protocol.ProtocolError
		if !errors.As(err, &pe) || pe.Kind != protocol.KindMalformedRequest {
			t.Errorf("DecodeRequest(%q) = %v, want malformed request", line, err)
		}
	}
}

func TestDecodeResponse(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		resp, err := protocol.DecodeResponse([]byte(`{"Success":true,"Data":{"x":1},"Error":null}` + "\n"))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Success || string(resp.Data) != `{"x":1}` || resp.Error != nil {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("application failure", func(t *testing.T) {
		resp, err := protocol.DecodeResponse([]byte(`{"Success":false,"Data":null,"Error":"element not found"}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Success || resp.ErrorMessage() != "element not found" {
			t.Fatalf("unexpected response: %+v", resp)
		}
	})

	t.Run("empty line", func(t *testing.T) {
		_, err := protocol.DecodeResponse([]byte("  \r\n"))
		var pe *protocol.ProtocolError
		if !errors.As(err, &pe) || pe.Kind != protocol.KindEmptyResponse {
			t.Fatalf("expected empty response error, got %v", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := protocol.DecodeResponse([]byte(`{"Success":"yes"}`))
		var pe *protocol.ProtocolError
		if !errors.As(err, &pe) || pe.Kind != protocol.KindMalformedResponse {
			t.Fatalf("expected malformed response error, got %v", err)
		}
		if pe.Raw != `{"Success":"yes"}` {
			t.Fatalf("expected raw text kept, got %q", pe.Raw)
		}
	})

	t.Run("success with error violates invariant", func(t *testing.T) {
		_, err := protocol.DecodeResponse([]byte(`{"Success":true,"Data":1,"Error":"nope"}`))
		var pe *protocol.ProtocolError
		if !errors.As(err, &pe) || pe.Kind != protocol.KindMalformedResponse {
			t.Fatalf("expected malformed response error, got %v", err)
		}
	})
}

func TestEncodeResponse_RoundTripsJSONValues(t *testing.T) {
	values := []any{
		nil,
		"pong",
		float64(3.25),
		[]any{"a", float64(1), nil},
		map[string]any{"nested": map[string]any{"k": []any{true, false}}},
	}
	for _, v := range values {
		resp, err := protocol.OK(v)
		if err != nil {
			t.Fatalf("OK(%v): %v", v, err)
		}
		line, err := protocol.EncodeResponse(resp)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		back, err := protocol.DecodeResponse(line)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		want, _ := json.Marshal(v)
		if !bytes.Equal(back.Data, want) {
			t.Errorf("round trip %v: got %s, want %s", v, back.Data, want)
		}
	}
}

func TestEncodeResponse_RejectsInvariantViolation(t *testing.T) {
	msg := "x"
	if _, err := protocol.EncodeResponse(protocol.Response{Success: true, Error: &msg}); err == nil {
		t.Fatal("expected error when Success=true carries Error")
	}
}

func TestGracePeriod(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{timeout: 2 * time.Second, want: time.Second},
		{timeout: 20 * time.Second, want: 10 * time.Second},
		{timeout: time.Minute, want: protocol.MaxGrace},
		{timeout: 0, want: 0},
	}
	for _, tt := range tests {
		if got := protocol.GracePeriod(tt.timeout); got != tt.want {
			t.Errorf("GracePeriod(%v) = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}
