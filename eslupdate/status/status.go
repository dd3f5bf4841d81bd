// Package status provides a channel-based notification feed for the
// operator running label updates.
//
// Example usage:
//
//	notices := make(chan status.Notice, 10)
//	handler := status.NewHandler(os.Stdout, notices, logger)
//	go handler.Run()
//
//	// Send never blocks; a full channel drops the notice.
//	status.Send(notices, status.Info, "Sending price (968 bytes) to esl/a0b1/price")
package status

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Level classifies a notice.
type Level int

const (
	Info Level = iota
	Success
	Failure
)

func (l Level) String() string {
	switch l {
	case Info:
		return "info"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Notice is one human-readable status line.
type Notice struct {
	Level Level
	Text  string
}

// Send queues a notice without blocking. It is a no-op on a nil channel and
// drops the notice when the channel is full.
func Send(ch chan<- Notice, level Level, text string) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- Notice{Level: level, Text: text}:
		return true
	default:
		return false
	}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Handler prints notices from a channel.
type Handler struct {
	out     io.Writer
	notices <-chan Notice
	logger  *slog.Logger

	done chan struct{}
	once sync.Once
}

// NewHandler creates a handler that writes each notice as one line to out.
func NewHandler(out io.Writer, notices <-chan Notice, logger *slog.Logger) *Handler {
	return &Handler{
		out:     out,
		notices: notices,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Run prints notices until the channel is closed.
// Run should be called in a separate goroutine.
func (h *Handler) Run() {
	defer h.once.Do(func() { close(h.done) })
	for n := range h.notices {
		h.display(n)
	}
}

// Done is closed once Run has drained the channel.
func (h *Handler) Done() <-chan struct{} { return h.done }

func (h *Handler) display(n Notice) {
	// One notice, one line, never shortened.
	text := lineBreaks.Replace(n.Text)
	var mark string
	switch n.Level {
	case Success:
		mark = "✅"
	case Failure:
		mark = "❌"
	default:
		mark = "•"
	}
	if _, err := fmt.Fprintf(h.out, "%s %s\n", mark, text); err != nil && h.logger != nil {
		h.logger.Error("status:write-failed", slog.String("reason", err.Error()))
	}
}
