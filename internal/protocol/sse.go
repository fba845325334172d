package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteSSE frames e as a Server-Sent Event: an "event:" line, one
// "data:" line per line of the JSON payload, and a blank line.
func WriteSSE(w io.Writer, e Event) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Type, err)
	}

	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(string(e.Type))
	buf.WriteByte('\n')
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	_, err = w.Write(buf.Bytes())
	return err
}

// Frame is one raw event read from a stream.
type Frame struct {
	Type Type
	Data []byte
}

// Reader parses Server-Sent Events.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: s}
}

// Next returns the next frame, or io.EOF when the stream ends. Comment
// lines and unknown fields are ignored. Multiple data lines are joined
// with newlines.
func (r *Reader) Next() (Frame, error) {
	var (
		f    Frame
		data [][]byte
		seen bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if seen {
				f.Data = bytes.Join(data, []byte("\n"))
				return f, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Type = Type(value)
			seen = true
		case "data":
			data = append(data, []byte(value))
			seen = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if seen {
		f.Data = bytes.Join(data, []byte("\n"))
		return f, nil
	}
	return Frame{}, io.EOF
}

// ReadAll reads every frame from r.
func ReadAll(r io.Reader) ([]Frame, error) {
	var frames []Frame
	sr := NewReader(r)
	for {
		f, err := sr.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

// Decode unmarshals the frame into an Event with a typed payload.
func (f Frame) Decode() (Event, error) {
	var data any
	switch f.Type {
	case TypeStreamOpen:
		data = &StreamOpen{}
	case TypeMessageDelta:
		data = &MessageDelta{}
	case TypeMessageFinal:
		data = &MessageFinal{}
	case TypeCardPlan:
		data = &PlanCard{}
	case TypeCardNextActions:
		data = &NextActionsCard{}
	case TypeCardWeeklyReview:
		data = &WeeklyReviewCard{}
	case TypeToolRequest:
		data = &ToolRequest{}
	case TypeToolStatus:
		data = &ToolStatus{}
	case TypePolicyNotice:
		data = &PolicyNotice{}
	case TypeError:
		data = &ErrorPayload{}
	case TypeStreamDone:
		data = &StreamDone{}
	default:
		return Event{}, fmt.Errorf("unknown event type %q", f.Type)
	}
	if err := json.Unmarshal(f.Data, data); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return Event{Type: f.Type, Data: data}, nil
}
