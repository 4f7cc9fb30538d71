package eventbus

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

const (
	// StreamName is the JetStream stream holding workboard events.
	StreamName = "WORKBOARD_EVENTS"

	// SubjectPrefix is the default subject prefix for all events.
	SubjectPrefix = "workboard"
)

// SubjectFor returns the NATS subject for an event.
// Format: workboard.<board>.<type> (e.g., workboard.3.claimed).
func SubjectFor(boardID int64, eventType EventType) string {
	return subjectWithPrefix(SubjectPrefix, boardID, eventType)
}

func subjectWithPrefix(prefix string, boardID int64, eventType EventType) string {
	return prefix + "." + strconv.FormatInt(boardID, 10) + "." + string(eventType)
}

// EnsureStream creates the workboard stream if it doesn't already exist.
func EnsureStream(js nats.JetStreamContext, prefix string) error {
	if prefix == "" {
		prefix = SubjectPrefix
	}
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{prefix + ".>"},
		Storage:  nats.FileStorage,
		// Retain last 10000 messages or 100MB, whichever comes first.
		MaxMsgs:  10000,
		MaxBytes: 100 << 20,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamName, err)
	}
	return nil
}

// Connect dials url, retrying with exponential backoff for up to
// maxElapsed. The server may still be starting when workboard comes up.
func Connect(url, name string, maxElapsed time.Duration) (*nats.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	var nc *nats.Conn
	err := backoff.Retry(func() error {
		var err error
		nc, err = nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
		return err
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}
