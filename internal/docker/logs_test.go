package docker

import "testing"

func TestParseLogLine(t *testing.T) {
	cases := []struct {
		name      string
		line      string
		timestamp string
		text      string
	}{
		{
			name:      "timestamped line",
			line:      "2026-01-02T15:04:05.999999999Z listening on :3000",
			timestamp: "2026-01-02T15:04:05.999999999Z",
			text:      "listening on :3000",
		},
		{
			name: "no timestamp",
			line: "plain output without a marker",
			text: "plain output without a marker",
		},
		{
			name:      "empty text after timestamp",
			line:      "2026-01-02T15:04:05Z",
			timestamp: "2026-01-02T15:04:05Z",
			text:      "",
		},
		{
			name: "empty line",
			line: "",
			text: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry := parseLogLine(tc.line)
			if entry.Timestamp != tc.timestamp {
				t.Fatalf("timestamp = %q, want %q", entry.Timestamp, tc.timestamp)
			}
			if entry.Text != tc.text {
				t.Fatalf("text = %q, want %q", entry.Text, tc.text)
			}
		})
	}
}

func TestStreamMessageRender(t *testing.T) {
	msg := streamMessage{Status: "Loading layer", ID: "abc123", Progress: "[==>   ] 12MB/48MB"}
	if got := msg.render(); got != "abc123 Loading layer [==>   ] 12MB/48MB" {
		t.Fatalf("render = %q", got)
	}

	msg = streamMessage{Stream: "Loaded image: app:latest\n"}
	if got := msg.render(); got != "Loaded image: app:latest" {
		t.Fatalf("render = %q", got)
	}

	if got := (streamMessage{}).render(); got != "" {
		t.Fatalf("render of empty message = %q", got)
	}
}

func TestStreamMessageErrorMessage(t *testing.T) {
	msg := streamMessage{Error: " open /tmp/bundle.tar: no such file "}
	if got := msg.errorMessage(); got != "open /tmp/bundle.tar: no such file" {
		t.Fatalf("errorMessage = %q", got)
	}
	msg = streamMessage{ErrorDetail: streamErrorDetail{Message: "layer corrupt"}}
	if got := msg.errorMessage(); got != "layer corrupt" {
		t.Fatalf("errorMessage = %q", got)
	}
	if got := (streamMessage{}).errorMessage(); got != "" {
		t.Fatalf("errorMessage of clean message = %q", got)
	}
}
