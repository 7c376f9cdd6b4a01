// README: Trip chat; append-only messages under the trip record.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"motorcab/internal/realtime"
	"motorcab/internal/types"
)

var ErrEmptyMessage = errors.New("empty chat message")

type Service struct {
	rt realtime.Store
}

func NewService(rt realtime.Store) *Service {
	return &Service{rt: rt}
}

// Send appends a driver message to the trip's chat and returns its key.
func (s *Service) Send(ctx context.Context, tripID types.ID, sender Sender, text string) (types.ID, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}
	key, err := s.rt.Push(ctx, MessagesPath(tripID), Message{
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return types.ID(key), nil
}

// Messages returns the conversation so far, oldest first.
func (s *Service) Messages(ctx context.Context, tripID types.ID) ([]Message, error) {
	children, err := s.rt.Children(ctx, MessagesPath(tripID), "", nil)
	if err != nil {
		return nil, err
	}
	return decodeSorted(children), nil
}

// Watch delivers the full conversation after every change.
func (s *Service) Watch(ctx context.Context, tripID types.ID) (<-chan []Message, error) {
	snaps, err := s.rt.WatchChildren(ctx, MessagesPath(tripID), "", nil)
	if err != nil {
		return nil, err
	}
	out := make(chan []Message, 1)
	go func() {
		defer close(out)
		for snap := range snaps {
			deliver(out, decodeSorted(snap.Children))
		}
	}()
	return out, nil
}

func deliver(ch chan []Message, msgs []Message) {
	for {
		select {
		case ch <- msgs:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func decodeSorted(children map[string]json.RawMessage) []Message {
	out := make([]Message, 0, len(children))
	for key, raw := range children {
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		m.ID = types.ID(key)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}
