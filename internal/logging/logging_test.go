package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup(t *testing.T) {
	defer func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	}()

	var buf bytes.Buffer
	if err := Setup("debug", FormatJSON, &buf); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logrus.GetLevel())
	}

	logrus.WithField("segment", "VIDEO_SEGMENT_1.mp4").Debug("テスト")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("JSON出力ではありません: %v (%s)", err, buf.String())
	}
	if entry["segment"] != "VIDEO_SEGMENT_1.mp4" || entry["msg"] != "テスト" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestSetupErrors(t *testing.T) {
	if err := Setup("verbose", FormatText, nil); err == nil {
		t.Error("不正なレベルはエラーになるべきです")
	}
	if err := Setup("info", "xml", nil); err == nil || !strings.Contains(err.Error(), "xml") {
		t.Errorf("不正な形式はエラーになるべきです: %v", err)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format string
		json   bool
	}{
		{"", false},
		{"text", false},
		{"JSON", true},
	}

	for _, tt := range tests {
		f, err := NewFormatter(tt.format)
		if err != nil {
			t.Fatalf("NewFormatter(%q) failed: %v", tt.format, err)
		}
		if _, ok := f.(*logrus.JSONFormatter); ok != tt.json {
			t.Errorf("NewFormatter(%q) = %T", tt.format, f)
		}
	}
}
