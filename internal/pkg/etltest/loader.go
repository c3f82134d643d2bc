package etltest

import (
	"context"
	"errors"
	"sync"

	"github.com/zpiroux/tapfacebook/entity"
)

var ErrMockLoad = errors.New("mock load error")

// MockLoader stores all loaded records and states. It can be set up to fail a number of
// initial StreamLoad calls.
type MockLoader struct {
	mu            sync.Mutex
	Records       []*entity.Record
	States        [][]byte
	Calls         int
	ShutdownCalls int

	FailFirst int
	Retryable bool
	Err       error
}

func NewMockLoader() *MockLoader {
	return &MockLoader{}
}

func (l *MockLoader) StreamLoad(ctx context.Context, records []*entity.Record) (string, error, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls++
	if len(records) == 0 {
		return "", errors.New("no records provided"), false
	}
	if l.Calls <= l.FailFirst {
		err := l.Err
		if err == nil {
			err = ErrMockLoad
		}
		return "", err, l.Retryable
	}
	l.Records = append(l.Records, records...)
	return records[len(records)-1].Stream, nil, false
}

func (l *MockLoader) LoadState(ctx context.Context, state *entity.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.States = append(l.States, state.JSON())
	return nil
}

func (l *MockLoader) Shutdown(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ShutdownCalls++
}

// Data returns the raw data of all loaded records.
func (l *MockLoader) Data() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.Records {
		out = append(out, string(r.Data))
	}
	return out
}

func (l *MockLoader) NbCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Calls
}
