package mlog

import (
	"fmt"
	"io"

	"github.com/dogmatiq/iago/must"
)

const (
	// FlowIDIcon is the icon shown directly before a flow ID. It is three
	// horizontal lines, representing the steps in a multi-step protocol.
	FlowIDIcon Icon = "≡"

	// SessionIDIcon is the icon shown directly before a session ID. It is the
	// relational algebra "join" symbol, representing the pairing of the two
	// participants in the session.
	SessionIDIcon Icon = "⨝"

	// TransactionIDIcon is the icon shown directly before a transaction ID. It
	// is a circle with a dot in the center, intended to be reminiscent of an
	// electron circling a nucleus, indicating "atomicity".
	TransactionIDIcon Icon = "⨀"

	// ConsumeIcon is the icon shown to indicate that an envelope is being
	// consumed. It is a downward pointing arrow, as such "inbound" envelopes
	// could be considered as being "downloaded" from the network.
	ConsumeIcon Icon = "▼"

	// ProduceIcon is the icon shown to indicate that an envelope is being
	// produced. It is an upward pointing arrow, as such "outbound" envelopes
	// could be considered as being "uploaded" to the network.
	ProduceIcon Icon = "▲"

	// RetryIcon is an icon used instead of ProduceIcon when an envelope is
	// being retransmitted. It is an open-circle with an arrow, indicating that
	// the envelope has "come around again".
	RetryIcon Icon = "↻"

	// SuspendIcon is the icon shown when a flow reaches a suspension point.
	// It is a pause symbol, representing execution that has been parked until
	// its wake condition is satisfied.
	SuspendIcon Icon = "⏸"

	// ErrorIcon is the icon shown when logging information about an error.
	// It is a heavy cross, indicating a failure.
	ErrorIcon Icon = "✖"

	// SystemIcon is an icon shown when a log message relates to the internals
	// of the engine. It is a sprocket, representing the inner workings of the
	// machine.
	SystemIcon Icon = "⚙"

	// SeparatorIcon is an icon used to separate strings of unrelated text
	// inside a log message. It is a large bullet, intended to have a large
	// visual impact.
	SeparatorIcon Icon = "●"
)

// Icon is a unicode symbol used as an icon in log messages.
type Icon string

func (i Icon) String() string {
	return string(i)
}

// WriteTo writes a string representation of the icon to w.
// If i is the zero-value, a single space is rendered.
func (i Icon) WriteTo(w io.Writer) (int64, error) {
	s := i.String()
	if i == "" {
		s = " "
	}

	n, err := io.WriteString(w, s)
	return int64(n), err
}

// WithLabel return an IconWithLabel containing this icon and the given label.
func (i Icon) WithLabel(f string, v ...interface{}) IconWithLabel {
	return IconWithLabel{
		i,
		fmt.Sprintf(f, v...),
	}
}

// WithID return an IconWithLabel containing this icon and the given ID,
// formatted using FormatID().
func (i Icon) WithID(id string) IconWithLabel {
	return IconWithLabel{
		i,
		FormatID(id),
	}
}

// IconWithLabel is a combination of an icon and a text label.
type IconWithLabel struct {
	Icon  Icon
	Label string
}

func (i IconWithLabel) String() string {
	return i.Icon.String() + " " + i.Label
}

// WriteTo writes a string representation of the icon and its label to w.
func (i IconWithLabel) WriteTo(w io.Writer) (n int64, err error) {
	defer must.Recover(&err)

	n += int64(must.WriteTo(w, i.Icon))
	n += int64(must.WriteString(w, " "))
	n += int64(must.WriteString(w, i.Label))

	return n, nil
}
