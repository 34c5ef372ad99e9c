package mlog

import (
	"io"
	"strings"

	"github.com/dogmatiq/iago/must"
)

// String renders a log line about a flow or session event as a string.
//
// ids carry the session and flow identifiers the event refers to, icons mark
// the kind of event, and text holds the human-readable segments, such as a
// payload's portable name and a sequence number.
func String(
	ids []IconWithLabel,
	icons []Icon,
	text ...string,
) string {
	w := &strings.Builder{}
	mustWrite(w, ids, icons, text)
	return w.String()
}

// Write renders a log line about a flow or session event to w.
func Write(
	w io.Writer,
	ids []IconWithLabel,
	icons []Icon,
	text ...string,
) (n int, err error) {
	defer must.Recover(&err)
	n = mustWrite(w, ids, icons, text)
	return
}

// mustWrite renders the identifier column, then the icon column, then the
// non-empty text segments delimited by the separator icon.
func mustWrite(
	w io.Writer,
	ids []IconWithLabel,
	icons []Icon,
	text []string,
) (n int) {
	for _, v := range ids {
		n += must.WriteTo(w, v)
		n += must.Write(w, space2)
	}

	for _, v := range icons {
		n += must.WriteTo(w, v)
		n += must.Write(w, space1)
	}

	i := 0
	for _, v := range text {
		if v == "" {
			continue
		}

		n += must.Write(w, space1)

		if i > 0 {
			n += must.WriteTo(w, SeparatorIcon)
			n += must.Write(w, space1)
		}

		n += must.WriteString(w, v)
		i++
	}

	return
}

var (
	space1 = []byte{' '}
	space2 = []byte{' ', ' '}
)
