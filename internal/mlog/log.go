package mlog

import (
	"fmt"

	"github.com/dogmatiq/attest/session"
	"github.com/dogmatiq/dodeca/logging"
)

// LogConsume logs a message indicating that a session envelope is being
// consumed.
func LogConsume(
	log logging.Logger,
	env *session.Envelope,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				SessionIDIcon.WithID(env.SessionID),
				FlowIDIcon.WithID(env.FlowID),
			},
			[]Icon{
				ConsumeIcon,
				"",
			},
			env.PortableName,
			fmt.Sprintf("seq %d", env.Seq),
		),
	)
}

// LogProduce logs a message indicating that a session envelope is being
// produced.
//
// fc is the number of times the envelope has already been transmitted.
func LogProduce(
	log logging.Logger,
	env *session.Envelope,
	fc uint,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				SessionIDIcon.WithID(env.SessionID),
				FlowIDIcon.WithID(env.FlowID),
			},
			[]Icon{
				ProduceIcon,
				retryIcon(fc),
			},
			env.PortableName,
			fmt.Sprintf("seq %d", env.Seq),
		),
	)
}

// LogSuspend logs a debug message indicating that a flow has been suspended.
func LogSuspend(
	log logging.Logger,
	flowID, name string,
	desc string,
) {
	logging.DebugString(
		log,
		String(
			[]IconWithLabel{
				FlowIDIcon.WithID(flowID),
			},
			[]Icon{
				SuspendIcon,
				"",
			},
			name,
			desc,
		),
	)
}

// LogFromFlow logs an informational message produced by a flow via its scope.
func LogFromFlow(
	log logging.Logger,
	flowID, name string,
	f string, v []interface{},
) {
	logging.Log(
		log,
		String(
			[]IconWithLabel{
				FlowIDIcon.WithID(flowID),
			},
			[]Icon{
				SystemIcon,
				"",
			},
			name,
			fmt.Sprintf(f, v...),
		),
	)
}

// LogParked logs a message indicating that a flow has been parked after an
// unrecoverable error.
func LogParked(
	log logging.Logger,
	flowID, name string,
	cause error,
) {
	logging.LogString(
		log,
		String(
			[]IconWithLabel{
				FlowIDIcon.WithID(flowID),
			},
			[]Icon{
				SuspendIcon,
				ErrorIcon,
			},
			name,
			cause.Error(),
		),
	)
}

func retryIcon(n uint) Icon {
	if n == 0 {
		return ""
	}

	return RetryIcon
}
