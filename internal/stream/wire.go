// Package stream serializes control samples into the line protocol and
// writes them to the consumer's transport.
package stream

import (
	"strconv"

	"github.com/ayusman/tipstream/internal/control"
)

// MessageTag identifies an absolute-position control message.
const MessageTag = "C"

// AppendMessage appends the wire form of a sample to buf:
//
//	C <x> <y>\n
//
// Each coordinate is written with exactly one fraction digit, correctly
// rounded from its binary value with ties to even (0.25 -> "0.2",
// 0.05 -> "0.1" since 0.05 is stored slightly above the tie). Values are not
// clamped. Z is not part of the message.
func AppendMessage(buf []byte, s control.Sample) []byte {
	buf = append(buf, MessageTag...)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, s.X, 'f', 1, 64)
	buf = append(buf, ' ')
	buf = strconv.AppendFloat(buf, s.Y, 'f', 1, 64)
	return append(buf, '\n')
}

// Format returns the wire form of a sample including the trailing newline.
func Format(s control.Sample) string {
	return string(AppendMessage(nil, s))
}
