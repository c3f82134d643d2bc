// Package singer implements the default sink of the tap, writing records and state
// as Singer messages (JSON lines) to stdout or any other io.Writer.
package singer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

var log *logger.Log

func init() {
	log = logging.New()
}

const (
	MessageTypeSchema = "SCHEMA"
	MessageTypeRecord = "RECORD"
	MessageTypeState  = "STATE"
)

var ErrWrite = errors.New("could not write singer message")

type SchemaMessage struct {
	Type               string            `json:"type"`
	Stream             string            `json:"stream"`
	Schema             gojson.RawMessage `json:"schema"`
	KeyProperties      []string          `json:"key_properties"`
	BookmarkProperties []string          `json:"bookmark_properties,omitempty"`
}

type RecordMessage struct {
	Type          string            `json:"type"`
	Stream        string            `json:"stream"`
	Record        gojson.RawMessage `json:"record"`
	TimeExtracted string            `json:"time_extracted,omitempty"`
}

type StateMessage struct {
	Type  string            `json:"type"`
	Value gojson.RawMessage `json:"value"`
}

// Writer serializes messages from all streams to a single output, one message per line.
type Writer struct {
	mu          sync.Mutex
	enc         *gojson.Encoder
	schemasSent map[string]bool
}

func NewWriter(w io.Writer) *Writer {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{
		enc:         enc,
		schemasSent: make(map[string]bool),
	}
}

// WriteSchema writes the SCHEMA message of a stream, unless already written.
func (w *Writer) WriteSchema(spec *entity.StreamSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeSchema(spec)
}

func (w *Writer) writeSchema(spec *entity.StreamSpec) error {
	if w.schemasSent[spec.Name] {
		return nil
	}
	msg := SchemaMessage{
		Type:          MessageTypeSchema,
		Stream:        spec.Name,
		Schema:        gojson.RawMessage(spec.Schema),
		KeyProperties: spec.PrimaryKeys,
	}
	if spec.HasReplicationKey() {
		msg.BookmarkProperties = []string{spec.ReplicationKey}
	}
	if err := w.enc.Encode(msg); err != nil {
		return fmt.Errorf("%w, details: %v", ErrWrite, err)
	}
	w.schemasSent[spec.Name] = true
	return nil
}

// WriteRecords writes the SCHEMA message if needed, followed by one RECORD message per
// record, without interleaving messages from other streams.
func (w *Writer) WriteRecords(spec *entity.StreamSpec, records []*entity.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeSchema(spec); err != nil {
		return err
	}
	for _, record := range records {
		msg := RecordMessage{
			Type:   MessageTypeRecord,
			Stream: record.Stream,
			Record: gojson.RawMessage(record.Data),
		}
		if !record.ExtractedAt.IsZero() {
			msg.TimeExtracted = record.ExtractedAt.UTC().Format(entity.TimestampLayoutIsoMillis)
		}
		if err := w.enc.Encode(msg); err != nil {
			return fmt.Errorf("%w, details: %v", ErrWrite, err)
		}
	}
	return nil
}

func (w *Writer) WriteState(state *entity.State) error {
	value, err := state.MarshalJSON()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(StateMessage{Type: MessageTypeState, Value: value}); err != nil {
		return fmt.Errorf("%w, details: %v", ErrWrite, err)
	}
	return nil
}

type loaderFactory struct {
	out *Writer
}

// NewLoaderFactory creates the factory of the Singer sink. All loaders share the same
// output. If w is nil, os.Stdout is used.
func NewLoaderFactory(w io.Writer) entity.LoaderFactory {
	if w == nil {
		w = os.Stdout
	}
	return &loaderFactory{out: NewWriter(w)}
}

func (lf *loaderFactory) SinkId() string {
	return string(entity.EntitySinger)
}

func (lf *loaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	if c.Spec == nil {
		return nil, errors.New("no stream spec provided to singer loader")
	}
	return &loader{id: c.ID, spec: c.Spec, out: lf.out}, nil
}

func (lf *loaderFactory) Close() error {
	return nil
}

type loader struct {
	id   string
	spec *entity.StreamSpec
	out  *Writer
}

func (l *loader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {

	if len(records) == 0 {
		return "", errors.New("streamLoad called without data to load"), false
	}
	if err := l.out.WriteRecords(l.spec, records); err != nil {
		log.Errorf(l.lgprfx()+"%v", err)
		return "", err, false
	}
	return records[len(records)-1].Key(l.spec.PrimaryKeys), nil, false
}

// LoadState makes sure the SCHEMA message is written even for streams without records,
// before writing the STATE message.
func (l *loader) LoadState(ctx context.Context, state *entity.State) error {
	if err := l.out.WriteSchema(l.spec); err != nil {
		return err
	}
	return l.out.WriteState(state)
}

func (l *loader) Shutdown(ctx context.Context) {}

func (l *loader) lgprfx() string {
	return "[singer.loader:" + l.spec.Name + ":" + l.id + "] "
}
