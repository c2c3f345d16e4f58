package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardkeep/signal_layer/pkg/signaling"
)

func TestPrinter_PlainWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Success("sent %s", "offer")
	p.Error("failed")
	p.Warning("slow")
	p.Info("hello")

	assert.Equal(t, "✓ sent offer\n✗ failed\n⚠ slow\nℹ hello\n", buf.String())
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPrinter_Messages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.Messages(nil)
	assert.Equal(t, "no pending signals\n", buf.String())

	buf.Reset()
	p.Messages([]signaling.Message{
		{Type: signaling.TypeIncomingCall, From: "alice", Data: json.RawMessage(`{"call_id": "c1"}`)},
		{Type: signaling.TypeOffer, From: "alice", Data: nil},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TYPE"))
	assert.Contains(t, lines[1], "incoming_call")
	assert.Contains(t, lines[1], `{"call_id": "c1"}`)
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "-", Summarize(nil, 10))
	assert.Equal(t, `{ "a": 1 }`, Summarize(json.RawMessage("{\n  \"a\": 1\n}"), 40))
	assert.Equal(t, "abcdefg...", Summarize(json.RawMessage("abcdefghijklmnop"), 10))
}

func TestSpinner_PlainPrintsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := NewPrinter(&buf).NewSpinner("waiting for answer")
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
	assert.Equal(t, "waiting for answer...\n", buf.String())
}

func TestCompletionPath(t *testing.T) {
	path, err := CompletionPath("/home/u", "zsh", "relayctl")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/u", ".zsh", "completion", "_relayctl"), path)

	_, err = CompletionPath("/home/u", "powershell", "relayctl")
	require.Error(t, err)
}

func TestInstallCompletion(t *testing.T) {
	home := t.TempDir()
	var out bytes.Buffer

	path, err := InstallCompletion(NewPrinter(&out), home, "bash", "relayctl", func(w io.Writer) error {
		_, err := io.WriteString(w, "# relayctl completion\n")
		return err
	})
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# relayctl completion\n", string(body))
	assert.Contains(t, out.String(), "source "+path)

	_, err = InstallCompletion(NewPrinter(&out), home, "fish", "relayctl", func(io.Writer) error {
		return errors.New("boom")
	})
	require.Error(t, err)
}
