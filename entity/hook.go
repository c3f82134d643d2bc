package entity

import "context"

type HookAction int

const (
	HookActionInvalid          HookAction = iota // default, not to be used
	HookActionProceed                            // continue processing of this record
	HookActionSkip                               // skip this record and take next
	HookActionUnretryableError                   // abort the stream with an error
	HookActionShutdown                           // shut down this stream
)

// RecordHookFunc is a client-provided function which the stream's Executor calls for each
// extracted record, prior to sending it to the Transformer. This way the client could
// modify/enrich/filter each record before being loaded into the sink.
// Since errors in this func is solely part of the client domain there is no point in
// returning them to the executor. The client decides the action to take by returning one
// of the HookAction values.
// The record is provided as a mutable argument to avoid requiring the client to always
// return data even if not used.
// The stream spec governing the provided record is provided for context and filtering
// logic capabilities, since the function is called for all streams.
type RecordHookFunc func(ctx context.Context, spec *StreamSpec, record *[]byte) HookAction
