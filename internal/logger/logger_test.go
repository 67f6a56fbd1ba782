package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		env, level string
		wantErr    bool
		debug      bool
	}{
		{env: "local", debug: true},
		{env: "prod"},
		{env: "prod", level: "debug", debug: true},
		{env: "dev", level: "warn"},
		{env: "staging", wantErr: true},
		{env: "prod", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			l, err := NewLogger(tt.env, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
				t.Errorf("debug enabled = %v, want %v", got, tt.debug)
			}
		})
	}
}

func TestForRunAndContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := ForRun(zap.New(core), "run-1", "shop.example.com")

	ctx := ContextWithLogger(context.Background(), l)
	FromContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["run_id"] != "run-1" || fields["tenant"] != "shop.example.com" {
		t.Errorf("unexpected fields: %v", fields)
	}

	// nop fallback
	FromContext(context.Background()).Info("dropped")
	if logs.Len() != 1 {
		t.Errorf("nop logger wrote an entry")
	}
}
