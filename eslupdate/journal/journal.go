// Package journal keeps a machine-readable record of label update jobs.
//
// It is separate from operational logging (slog): every finished job is
// appended as one CBOR-encoded Entry, so a history of what was sent to which
// label survives restarts and can be listed with "eslupdate history".
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Recorder receives finished jobs. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(e Entry) error
}

// Transition is one state change of a job.
type Transition struct {
	From string    `cbor:"1,keyasint"`
	To   string    `cbor:"2,keyasint"`
	At   time.Time `cbor:"3,keyasint"`
}

// Publish describes one payload handed to the transport.
type Publish struct {
	Topic string `cbor:"1,keyasint"`
	Bytes int    `cbor:"2,keyasint"`
}

// Entry is the journal record of one update job.
type Entry struct {
	JobID       string       `cbor:"1,keyasint"`
	TagID       string       `cbor:"2,keyasint,omitempty"`
	Broker      string       `cbor:"3,keyasint"`
	State       string       `cbor:"4,keyasint"`
	Error       string       `cbor:"5,keyasint,omitempty"`
	StartedAt   time.Time    `cbor:"6,keyasint"`
	EndedAt     time.Time    `cbor:"7,keyasint"`
	Publishes   []Publish    `cbor:"8,keyasint,omitempty"`
	Transitions []Transition `cbor:"9,keyasint,omitempty"`
}

// Duration returns how long the job ran.
func (e Entry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.EndedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("journal: cbor decoder mode: %v", err))
	}
}

// Encode returns the CBOR encoding of e.
func Encode(e Entry) ([]byte, error) {
	return encMode.Marshal(e)
}

// Decode parses one CBOR-encoded entry.
func Decode(data []byte) (Entry, error) {
	var e Entry
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Nop discards entries.
type Nop struct{}

// Record discards e.
func (Nop) Record(Entry) error { return nil }

// File appends entries to a journal file.
type File struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
}

// OpenFile opens path for appending, creating it with mode 0644 if needed.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &File{file: f, enc: encMode.NewEncoder(f)}, nil
}

// Record appends e to the file.
func (j *File) Record(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.New("journal: file closed")
	}
	if err := j.enc.Encode(e); err != nil {
		return fmt.Errorf("journal: encode entry %s: %w", e.JobID, err)
	}
	return nil
}

// Close closes the file. Calling Close more than once is safe.
func (j *File) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// Read decodes every entry in r, in the order they were written.
func Read(r io.Reader) ([]Entry, error) {
	dec := decMode.NewDecoder(r)
	var entries []Entry
	for {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("journal: decode entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
}

// ReadFile decodes every entry in the journal at path.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*File)(nil)
)
