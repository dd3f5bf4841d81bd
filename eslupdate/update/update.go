// Package update runs label update jobs: capture the composition, encode both
// regions, connect to the broker, publish, and close.
//
// A job is a straight sequence of awaited steps. Capture and connect are the
// only points where it waits on something external; each Run owns its own
// connection, so concurrent runs share nothing but the Updater's settings.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/harveysanders/esllabel/eslupdate/bitmap"
	"github.com/harveysanders/esllabel/eslupdate/compose"
	"github.com/harveysanders/esllabel/eslupdate/journal"
	"github.com/harveysanders/esllabel/eslupdate/status"
)

// DefaultSettle is how long a connection stays open after the last publish
// so the transport can flush outgoing frames.
const DefaultSettle = 500 * time.Millisecond

var (
	// ErrCapture indicates the composition could not be rendered or cropped.
	ErrCapture = errors.New("update: capture failed")
	// ErrConnect indicates the broker connection could not be established.
	ErrConnect = errors.New("update: transport connect failed")
	// ErrTransport indicates the transport failed after connecting.
	ErrTransport = errors.New("update: transport error")
)

// Conn is an open broker connection owned by a single job.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Monitor is implemented by connections that notice the broker going away
// on their own, before the next write fails.
type Monitor interface {
	Lost() <-chan struct{} // Closed once the connection has dropped.
	Err() error            // Why it dropped.
}

// Dialer opens broker connections.
type Dialer interface {
	Dial(ctx context.Context, broker string) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, broker string) (Conn, error)

func (f DialFunc) Dial(ctx context.Context, broker string) (Conn, error) { return f(ctx, broker) }

// Topics derives the per-label topics from a tag ID. The tag ID is used
// verbatim; callers supply a transport-safe identifier.
func Topics(tagID string) (description, price string) {
	return "esl/" + tagID + "/description", "esl/" + tagID + "/price"
}

// Updater holds the settings shared by every job.
type Updater struct {
	Broker   string           // Broker address handed to Dialer.
	Dialer   Dialer           // Opens one connection per job.
	Renderer compose.Renderer // Produces the full label composition.
	// TagID returns the destination label. It is read once per job, right
	// after the connection is up, so edits made while connecting still
	// change where the bitmaps go.
	TagID   func() string
	Settle  time.Duration // Wait between the last publish and close. Zero means DefaultSettle.
	Logger  *slog.Logger
	Status  chan<- status.Notice // Operator notices. Optional.
	Journal journal.Recorder     // Receives one entry per finished job. Optional.

	// After replaces time.After for the settle wait.
	After func(time.Duration) <-chan time.Time
}

// Transition records one state change of a job.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Job is the record of one update.
type Job struct {
	ID          string
	Broker      string
	State       State
	TagID       string
	Description bitmap.Bitmap
	Price       bitmap.Bitmap
	Topics      []string // Topics published to, in order.
	Transitions []Transition
	StartedAt   time.Time
	EndedAt     time.Time
	Err         error
}

func (j *Job) to(s State, logger *slog.Logger) {
	if !j.State.CanTransition(s) {
		// Unreachable from Run.
		panic(fmt.Sprintf("update: illegal transition %s -> %s", j.State, s))
	}
	t := Transition{From: j.State, To: s, At: time.Now()}
	j.Transitions = append(j.Transitions, t)
	j.State = s
	if s.Terminal() {
		j.EndedAt = t.At
	}
	logger.Debug("update:state", slog.String("from", t.From.String()), slog.String("to", t.To.String()))
}

func (u *Updater) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (u *Updater) settle() time.Duration {
	if u.Settle > 0 {
		return u.Settle
	}
	return DefaultSettle
}

func (u *Updater) after(d time.Duration) <-chan time.Time {
	if u.After != nil {
		return u.After(d)
	}
	return time.After(d)
}

func (u *Updater) tagID() string {
	if u.TagID == nil {
		return ""
	}
	return u.TagID()
}

// Run executes one update job. The returned job is never nil once the
// Updater is configured, and carries the terminal state whether or not an
// error is returned. Errors wrap ErrCapture, ErrConnect or ErrTransport.
func (u *Updater) Run(ctx context.Context) (*Job, error) {
	if u.Renderer == nil || u.Dialer == nil {
		return nil, errors.New("update: updater needs a renderer and a dialer")
	}

	job := &Job{
		ID:        uuid.NewString(),
		Broker:    u.Broker,
		State:     Idle,
		StartedAt: time.Now(),
	}
	logger := u.logger().With(slog.String("job", job.ID))
	defer u.finish(job, logger)

	job.to(Capturing, logger)
	regions, err := compose.Capture(ctx, u.Renderer)
	if err != nil {
		return job, u.fail(job, logger, fmt.Errorf("%w: %w", ErrCapture, err))
	}

	job.to(Encoding, logger)
	job.Description = bitmap.Encode(regions.Description.Image)
	job.Price = bitmap.Encode(regions.Price.Image)
	logger.Debug("update:encoded",
		slog.Int("description_bytes", len(job.Description.Data)),
		slog.Int("price_bytes", len(job.Price.Data)),
	)

	job.to(Connecting, logger)
	conn, err := u.Dialer.Dial(ctx, u.Broker)
	if err != nil {
		return job, u.fail(job, logger, fmt.Errorf("%w: %w", ErrConnect, err))
	}

	job.to(Publishing, logger)
	job.TagID = u.tagID()
	descTopic, priceTopic := Topics(job.TagID)
	payloads := []struct {
		name  string
		topic string
		data  []byte
	}{
		{"description", descTopic, job.Description.Data},
		{"price", priceTopic, job.Price.Data},
	}
	for _, p := range payloads {
		if err := conn.Publish(ctx, p.topic, p.data); err != nil {
			u.close(conn, logger)
			return job, u.fail(job, logger, fmt.Errorf("%w: publishing %s: %w", ErrTransport, p.name, err))
		}
		job.Topics = append(job.Topics, p.topic)
		msg := fmt.Sprintf("Sending %s (%d bytes) to %s", p.name, len(p.data), p.topic)
		logger.Info(msg)
		status.Send(u.Status, status.Info, msg)
	}

	job.to(Closing, logger)
	u.wait(conn, logger)
	u.close(conn, logger)

	job.to(Done, logger)
	status.Send(u.Status, status.Success, "Done updating ESL!")
	return job, nil
}

// wait holds the connection open for the settle delay. A drop noticed in the
// meantime is reported but does not cut the wait short or fail the job; both
// payloads were already handed to the transport.
func (u *Updater) wait(conn Conn, logger *slog.Logger) {
	settled := u.after(u.settle())
	m, ok := conn.(Monitor)
	if !ok {
		<-settled
		return
	}
	select {
	case <-settled:
	case <-m.Lost():
		err := fmt.Errorf("%w: %w", ErrTransport, m.Err())
		logger.Warn("update:transport-lost", slog.String("reason", err.Error()))
		status.Send(u.Status, status.Failure, err.Error())
		<-settled
	}
}

func (u *Updater) close(conn Conn, logger *slog.Logger) {
	if err := conn.Close(); err != nil {
		logger.Warn("update:close-failed", slog.String("reason", err.Error()))
	}
}

func (u *Updater) fail(job *Job, logger *slog.Logger, err error) error {
	job.Err = err
	job.to(Failed, logger)
	logger.Error("update:failed", slog.String("reason", err.Error()))
	status.Send(u.Status, status.Failure, err.Error())
	return err
}

func (u *Updater) finish(job *Job, logger *slog.Logger) {
	if !job.State.Terminal() {
		// Only reachable through a panic in a step.
		logger.Error("update:unfinished", slog.String("state", job.State.String()))
		job.EndedAt = time.Now()
	}
	logger.Info("update:finished",
		slog.String("state", job.State.String()),
		slog.String("tag_id", job.TagID),
		slog.Duration("duration", job.EndedAt.Sub(job.StartedAt)),
	)
	if u.Journal == nil {
		return
	}
	if err := u.Journal.Record(job.Entry()); err != nil {
		logger.Error("journal:record-failed", slog.String("reason", err.Error()))
	}
}

// Entry converts the job into its journal record.
func (j *Job) Entry() journal.Entry {
	e := journal.Entry{
		JobID:     j.ID,
		TagID:     j.TagID,
		Broker:    j.Broker,
		State:     j.State.String(),
		StartedAt: j.StartedAt,
		EndedAt:   j.EndedAt,
	}
	if j.Err != nil {
		e.Error = j.Err.Error()
	}
	sizes := []int{len(j.Description.Data), len(j.Price.Data)}
	for i, topic := range j.Topics {
		e.Publishes = append(e.Publishes, journal.Publish{Topic: topic, Bytes: sizes[i]})
	}
	for _, t := range j.Transitions {
		e.Transitions = append(e.Transitions, journal.Transition{
			From: t.From.String(),
			To:   t.To.String(),
			At:   t.At,
		})
	}
	return e
}
