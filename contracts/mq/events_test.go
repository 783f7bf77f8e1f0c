package mq

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewEnvelopeStampsOnce(t *testing.T) {
	before := time.Now().UTC()
	env, err := NewEnvelope(EventUserFollowed, FollowPayload{FollowerID: "f1", FollowedID: "u1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Version != SchemaVersion {
		t.Fatalf("version = %q", env.Version)
	}
	if env.Timestamp.Before(before) || env.Timestamp.Location() != time.UTC {
		t.Fatalf("unexpected timestamp %v", env.Timestamp)
	}

	body, _ := json.Marshal(env)
	for _, field := range []string{`"event":"user_followed"`, `"followerId":"f1"`, `"version":"1.0.0"`} {
		if !strings.Contains(string(body), field) {
			t.Fatalf("wire form %s missing %s", body, field)
		}
	}

	decoded, err := DecodeEnvelope(body)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var p FollowPayload
	if err := decoded.DecodeData(&p); err != nil || p.FollowedID != "u1" {
		t.Fatalf("payload = %+v err=%v", p, err)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	for _, body := range []string{`not json`, `{"data":{}}`, `[]`} {
		if _, err := DecodeEnvelope([]byte(body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestUnknownEventDecodes(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"story_viewed","data":{},"version":"1.0.0"}`))
	if err != nil {
		t.Fatalf("unknown events must decode: %v", err)
	}
	if IsKnown(env.Event) {
		t.Fatal("story_viewed is not a known event")
	}
	if !IsKnown(EventMessageSent) {
		t.Fatal("message_sent is known")
	}
}

func TestDecodeDataEmpty(t *testing.T) {
	env := Envelope{Event: EventPostCreated}
	var p PostCreatedPayload
	if err := env.DecodeData(&p); err == nil {
		t.Fatal("missing data must fail")
	}
}
