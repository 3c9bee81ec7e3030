package logger

import "testing"

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		level string
	}{
		{level: "debug"},
		{level: "info"},
		{level: "warn"},
		{level: "error"},
		{level: "garbage"},
		{level: ""},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			log := NewZapLogger(tt.level)
			if log == nil {
				t.Fatal("logger is nil")
			}
			if _, ok := log.(*ZapLogger); !ok {
				t.Fatalf("logger type = %T, want *ZapLogger", log)
			}
			log.Info("constructed", map[string]any{"level": tt.level})
		})
	}
}
