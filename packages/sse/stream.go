// Package sse turns Server-Sent Events bodies into chunk streams, one chunk per event.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/respec/packages/stream"
)

// Event represents a single SSE event.
type Event struct {
	ID    string
	Type  string
	Data  string
	Retry int
}

// Frame renders the event in wire format, data first, terminated by a blank line.
func (e Event) Frame() string {
	var b strings.Builder
	for _, line := range strings.Split(e.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if e.Type != "" {
		b.WriteString("event: " + e.Type + "\n")
	}
	if e.ID != "" {
		b.WriteString("id: " + e.ID + "\n")
	}
	if e.Retry > 0 {
		b.WriteString("retry: " + strconv.Itoa(e.Retry) + "\n")
	}
	b.WriteByte('\n')
	return b.String()
}

// EventHandler is a callback for handling SSE events. Returning false stops parsing.
type EventHandler func(event Event) bool

// ParseEvents reads events from r and passes each to handler until the reader
// is exhausted or the handler returns false.
func ParseEvents(r io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(r)
	var currentEvent Event
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				currentEvent.Data = strings.Join(dataLines, "\n")
				if !handler(currentEvent) {
					return nil
				}
			}
			currentEvent = Event{}
			dataLines = nil
			continue
		}

		// Comment, ignore
		if strings.HasPrefix(line, ":") {
			continue
		}

		var field, value string
		colonIdx := strings.Index(line, ":")
		if colonIdx == -1 {
			field = line
		} else {
			field = line[:colonIdx]
			value = line[colonIdx+1:]
			// Remove leading space from value
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch field {
		case "event":
			currentEvent.Type = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			currentEvent.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				currentEvent.Retry = n
			}
		}
	}

	// Handle any remaining event
	if len(dataLines) > 0 {
		currentEvent.Data = strings.Join(dataLines, "\n")
		handler(currentEvent)
	}

	return scanner.Err()
}

type eventStream struct {
	rc        io.ReadCloser
	pipe      *stream.Pipe
	start     sync.Once
	closeOnce sync.Once
}

// NewStream adapts a text/event-stream body into a stream.Stream whose chunks
// are whole event frames. Parsing starts on Subscribe; the body is closed
// when the stream ends or the subscription is cancelled.
func NewStream(rc io.ReadCloser) stream.Stream {
	return &eventStream{rc: rc, pipe: stream.NewPipe()}
}

func (s *eventStream) Subscribe(consumer func(chunk string)) stream.Subscription {
	sub := s.pipe.Subscribe(consumer)
	s.start.Do(func() {
		go func() {
			defer s.pipe.Close()
			_ = ParseEvents(s.rc, func(ev Event) bool {
				return s.pipe.Push(ev.Frame())
			})
		}()
		go func() {
			<-s.pipe.Done()
			s.closeOnce.Do(func() { _ = s.rc.Close() })
		}()
	})
	return sub
}
