// Package notify is used by the tap to send/log operational events of its sync engine.
// It is made externally accessible mainly for sink plugin development, since sink
// internals also should send important events to the same channel. The common notify
// channel is passed to the sink loaders in the entity Config.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/tapfacebook/entity"
)

const (
	// LogLevelEnv is the OS env variable holding the minimum notification level.
	LogLevelEnv = "LOG_LEVEL"

	timestampLayout = "2006-01-02T15:04:05.000000Z"
	maxStackSize    = 4096
)

// Notifier provides a way to send notification/log events to both an externally accessible
// channel and to the log framework.
type Notifier struct {
	ch             entity.NotifyChan
	minNotifyLevel int
	log            *logger.Log
	callerLevel    int
	sender         string
	instance       string
	stream         string
}

// New creates a new Notifier. For proper value on the caller func name, set `callerLevel` to:
//
//	1 - if the notifying func is immediately above the called Notify()
//	2 - if the notifying func is two levels above
//	... etc
//
// The minimum level to use is taken from the OS env variable "LOG_LEVEL". If not found or
// invalid it is set to "INFO". It can be re-set with SetNotifyLevel().
// Both ch and log are optional.
func New(ch entity.NotifyChan, log *logger.Log, callerLevel int, sender, instance, stream string) *Notifier {

	notifyLevel := entity.NotifyLevel(os.Getenv(LogLevelEnv))
	if notifyLevel == entity.NotifyLevelInvalid {
		notifyLevel = entity.NotifyLevelInfo
	}

	return &Notifier{
		ch:             ch,
		minNotifyLevel: notifyLevel,
		log:            log,
		callerLevel:    callerLevel,
		sender:         sender,
		instance:       instance,
		stream:         stream,
	}
}

func (n *Notifier) Sender() string {
	return n.sender
}

func (n *Notifier) Instance() string {
	return n.instance
}

func (n *Notifier) Stream() string {
	return n.stream
}

func (n *Notifier) SetNotifyLevel(level int) {
	n.minNotifyLevel = level
}

// Enabled tells if events with the provided level will be sent. Useful to avoid building
// expensive messages, e.g. with record data.
func (n *Notifier) Enabled(level int) bool {
	return level >= n.minNotifyLevel
}

// Notify sends the provided data to the channel (and optionally log framework),
// together with additional data depending on notification level:
//
//	DEBUG and INFO: name of calling func
//	WARN: as INFO plus file and line number
//	ERROR: as WARN plus the stack trace.
func (n *Notifier) Notify(level int, message string, args ...any) {

	if !n.Enabled(level) {
		return
	}

	msg := fmt.Sprintf(message, args...)
	n.SendNotificationEvent(level, entity.NotificationEvent{
		Sender:   n.sender,
		Instance: n.instance,
		Stream:   n.stream,
		Message:  msg,
	})

	if n.log == nil {
		return
	}

	var streamTag string
	if n.stream != "" {
		streamTag = "(stream: " + n.stream + ")"
	}

	const fmtstr = "[%s:%s]%s %s"
	switch level {
	case entity.NotifyLevelDebug:
		n.log.Debugf(fmtstr, n.sender, n.instance, streamTag, msg)
	case entity.NotifyLevelInfo:
		n.log.Infof(fmtstr, n.sender, n.instance, streamTag, msg)
	case entity.NotifyLevelWarn:
		n.log.Warnf(fmtstr, n.sender, n.instance, streamTag, msg)
	case entity.NotifyLevelError:
		n.log.Errorf(fmtstr, n.sender, n.instance, streamTag, msg)
	}
}

// SendNotificationEvent takes a formatted NotificationEvent, enriches it with info
// such as func, file, line, call stack, and sends it to the channel.
// The send never blocks. Events are dropped if the channel is full or nil.
func (n *Notifier) SendNotificationEvent(notifyLevel int, event entity.NotificationEvent) {

	if n.ch == nil {
		return
	}

	pc, file, line, _ := runtime.Caller(n.callerLevel)
	funcName := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		_, funcName = filepath.Split(f.Name())
	}

	event.Level = entity.NotifyLevelName(notifyLevel)
	event.Func = funcName
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(timestampLayout)
	}

	if notifyLevel >= entity.NotifyLevelWarn {
		event.File = file
		event.Line = line
	}

	if notifyLevel == entity.NotifyLevelError {
		stackTrace := make([]byte, maxStackSize)
		event.StackTrace = string(stackTrace[:runtime.Stack(stackTrace, false)])
	}

	select {
	case n.ch <- event:
	default:
	}
}
