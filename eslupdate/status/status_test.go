package status

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendNeverBlocks(t *testing.T) {
	ch := make(chan Notice, 1)
	assert.True(t, Send(ch, Info, "first"))
	assert.False(t, Send(ch, Info, "dropped"))
	assert.False(t, Send(nil, Info, "nowhere"))

	n := <-ch
	assert.Equal(t, Notice{Level: Info, Text: "first"}, n)
}

func TestHandlerRun(t *testing.T) {
	var out bytes.Buffer
	ch := make(chan Notice, 4)
	h := NewHandler(&out, ch, nil)

	Send(ch, Info, "Sending description (2580 bytes) to esl/abc/description")
	Send(ch, Success, "Done updating ESL!")
	Send(ch, Failure, "transport connect failed")
	close(ch)

	h.Run()
	<-h.Done()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "• Sending description (2580 bytes) to esl/abc/description", lines[0])
	assert.Equal(t, "✅ Done updating ESL!", lines[1])
	assert.Equal(t, "❌ transport connect failed", lines[2])
}

func TestHandlerPrintsLongTopicsInFull(t *testing.T) {
	var out bytes.Buffer
	ch := make(chan Notice, 1)
	h := NewHandler(&out, ch, nil)

	topic := "esl/" + strings.Repeat("é", 150) + "/description"
	text := "Sending description (2580 bytes) to " + topic
	Send(ch, Info, text)
	close(ch)
	h.Run()

	assert.Equal(t, "• "+text+"\n", out.String())
	assert.True(t, strings.HasSuffix(out.String(), topic+"\n"))
}

func TestHandlerKeepsNoticesOnOneLine(t *testing.T) {
	var out bytes.Buffer
	ch := make(chan Notice, 1)
	h := NewHandler(&out, ch, nil)

	Send(ch, Failure, "update: transport error:\nconnection reset\r\nby peer")
	close(ch)
	h.Run()

	assert.Equal(t, "❌ update: transport error: connection reset by peer\n", out.String())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "info", Info.String())
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "failure", Failure.String())
	assert.Equal(t, "unknown", Level(9).String())
}
