package goGuard

import (
	"context"
	"testing"
	"time"
)

func waitEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for audit event")
	}
	return AuditEvent{}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := NewChannelSink(16)
	engine, _, _ := newTestEngine(t, testEngineConfig(), func(b *Builder) {
		b.WithAuditSink(sink)
	})

	_ = engine.Login(WithClientIP(context.Background(), "203.0.113.1"), "alice", failAuth)
	engine.Close()

	select {
	case ev := <-sink.Events():
		t.Fatalf("expected no audit events when disabled, got %+v", ev)
	default:
	}
}

func TestAuditLoginLifecycle(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(64)
	engine, _, _ := newTestEngine(t, cfg, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	ctx := WithClientIP(context.Background(), "203.0.113.1")

	for i := 0; i < 3; i++ {
		_ = engine.Login(ctx, "alice", failAuth)
	}
	_ = engine.Login(ctx, "alice", passAuth)

	for i := 0; i < 3; i++ {
		ev := waitEvent(t, sink)
		if ev.EventType != "login_failure" || ev.Allowed || ev.IP != "203.0.113.1" {
			t.Fatalf("unexpected failure event %+v", ev)
		}
	}
	ev := waitEvent(t, sink)
	if ev.EventType != "login_locked" || ev.Error != CodeLoginLocked {
		t.Fatalf("unexpected locked event %+v", ev)
	}
	if ev.Reset != time.Hour {
		t.Fatalf("expected reset 1h on locked event, got %v", ev.Reset)
	}
	if !ev.Timestamp.Equal(testEpoch) {
		t.Fatalf("expected injected clock timestamp, got %v", ev.Timestamp)
	}
}

func TestAuditChallengeEvents(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Audit.Enabled = true
	sink := NewChannelSink(64)
	engine, _, _ := newTestEngine(t, cfg, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	ctx := WithClientIP(context.Background(), "203.0.113.1")

	_ = engine.Challenge(ctx, "phone", "+1", "", sendOK)
	_ = engine.Challenge(ctx, "phone", "+1", "", sendOK)

	sent := waitEvent(t, sink)
	if sent.EventType != "challenge_sent" || sent.Guard != "phone" || sent.Subject != "+1" || !sent.Allowed {
		t.Fatalf("unexpected sent event %+v", sent)
	}
	if sent.Metadata["captcha_solved"] != "false" {
		t.Fatalf("unexpected metadata %+v", sent.Metadata)
	}
	required := waitEvent(t, sink)
	if required.EventType != "captcha_required" || required.Error != CodeCaptchaRequired {
		t.Fatalf("unexpected captcha event %+v", required)
	}
}
