package api

import (
	"errors"
	"testing"
)

func TestParseEnvelopeValid(t *testing.T) {
	env, err := parseEnvelope([]byte(`{"seq": 3, "type": "move", "payload": {"dir": "N"}}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Type != "move" {
		t.Errorf("type = %q", env.Type)
	}
	if env.Seq == nil || env.Seq.String() != "3" {
		t.Errorf("seq = %v", env.Seq)
	}
	if string(env.Payload) != `{"dir": "N"}` {
		t.Errorf("payload = %s", env.Payload)
	}
}

func TestParseEnvelopeSyntaxError(t *testing.T) {
	for _, frame := range []string{`{`, `not json`, `{"seq": 1,}`} {
		_, err := parseEnvelope([]byte(frame))
		if err == nil {
			t.Errorf("frame %q parsed without error", frame)
			continue
		}
		if errors.Is(err, errEnvelopeShape) {
			t.Errorf("frame %q reported as a shape error, want a raw syntax error", frame)
		}
	}
}

func TestParseEnvelopeNonObject(t *testing.T) {
	// Valid JSON that is not an object is a schema problem, not a framing
	// violation; the gateway keeps the connection open for these.
	for _, frame := range []string{`[]`, `5`, `"move"`, `true`, `null`, `{"seq": "abc"}`} {
		_, err := parseEnvelope([]byte(frame))
		if !errors.Is(err, errEnvelopeShape) {
			t.Errorf("frame %q: err = %v, want errEnvelopeShape", frame, err)
		}
	}
}

func TestParseEnvelopeUnknownField(t *testing.T) {
	// Unknown envelope fields are valid JSON but not a valid frame; the
	// session turns the blanked type into a bad_schema reply.
	env, err := parseEnvelope([]byte(`{"seq": 1, "type": "move", "shard": 7}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if env.Type != "" {
		t.Errorf("type = %q, want blanked", env.Type)
	}
}

func TestParseEnvelopeNonIntegerSeqSurvives(t *testing.T) {
	// A fractional seq is the session's problem, not the gateway's.
	env, err := parseEnvelope([]byte(`{"seq": 2.5, "type": "turn"}`))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if env.Seq == nil || env.Seq.String() != "2.5" {
		t.Errorf("seq = %v", env.Seq)
	}
}
