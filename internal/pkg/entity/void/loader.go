package void

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
	"github.com/zpiroux/tapfacebook/internal/pkg/logging"
)

var log *logger.Log

func init() {
	log = logging.New()
}

const (
	PropLogRecordData = "logRecordData"
	PropSimulateError = "simulateError"
	PropMaxErrors     = "maxErrors"

	SimulateAlwaysRetryable   = "alwaysRetryable"
	SimulateAlwaysUnretryable = "alwaysUnretryable"
)

var (
	ErrSimulatedRetryable   = errors.New("void loader simulating retryable error")
	ErrSimulatedUnretryable = errors.New("void loader simulating unretryable error")
)

type loaderFactory struct{}

// NewLoaderFactory creates the factory of the void sink, which discards all records.
// It is mainly used for dry runs, benchmarking and testing.
func NewLoaderFactory() entity.LoaderFactory {
	return &loaderFactory{}
}

func (lf *loaderFactory) SinkId() string {
	return string(entity.EntityVoid)
}

func (lf *loaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	l, err := newLoader(c)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (lf *loaderFactory) Close() error {
	return nil
}

type loader struct {
	id           string
	stream       string
	props        map[string]string
	maxErrors    int
	mu           sync.Mutex
	numberErrors int
}

func newLoader(c entity.Config) (*loader, error) {
	l := &loader{
		id:        c.ID,
		props:     make(map[string]string),
		maxErrors: math.MaxInt32,
	}
	if c.Spec != nil {
		l.stream = c.Spec.Name
	}
	for k, v := range c.Props {
		l.props[k] = v
	}
	if value, ok := l.props[PropMaxErrors]; ok {
		maxErrors, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.New("invalid maxErrors value in void sink props: " + value)
		}
		l.maxErrors = maxErrors
	}
	return l, nil
}

func (l *loader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {

	if len(records) == 0 {
		return "", errors.New("streamLoad called without data to load"), false
	}

	if err, retryable := l.simulatedError(); err != nil {
		return "", err, retryable
	}

	if l.props[PropLogRecordData] == "true" {
		for _, record := range records {
			log.Infof(l.lgprfx()+"record received in void sink StreamLoad: %s", record.String())
		}
	}

	return "", nil, false
}

func (l *loader) simulatedError() (error, bool) {
	mode, ok := l.props[PropSimulateError]
	if !ok {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.numberErrors >= l.maxErrors {
		return nil, false
	}

	switch mode {
	case SimulateAlwaysRetryable:
		l.numberErrors++
		return ErrSimulatedRetryable, true
	case SimulateAlwaysUnretryable:
		l.numberErrors++
		return ErrSimulatedUnretryable, false
	}
	return nil, false
}

func (l *loader) Shutdown(ctx context.Context) {}

func (l *loader) lgprfx() string {
	return "[void.loader:" + l.stream + ":" + l.id + "] "
}
