package render

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fr4iser90/dashsync/internal/dashboard"
)

// Message is one message on a simulated chat surface.
type Message struct {
	ChannelID string `yaml:"channel_id"`
	MessageID string `yaml:"message_id"`
	Content   string `yaml:"content"`
	Edits     int    `yaml:"edits"`
}

// Ref returns the message locator "<channel>/<message>".
func (m Message) Ref() dashboard.ArtifactRef {
	return dashboard.ArtifactRef(m.ChannelID + "/" + m.MessageID)
}

// surface holds messages keyed by ref. Not safe for concurrent use; callers
// hold their own mutex.
type surface struct {
	nextID   int64
	messages map[dashboard.ArtifactRef]*Message
}

// firstMessageID keeps simulated ids visually distinct from channel ids.
const firstMessageID = 5000

func newSurface() *surface {
	return &surface{nextID: firstMessageID, messages: make(map[dashboard.ArtifactRef]*Message)}
}

// apply edits the hinted message when it still exists in the same channel,
// otherwise posts a new one.
func (s *surface) apply(req Request) dashboard.ArtifactRef {
	if !req.KnownRef.IsZero() {
		if msg, ok := s.messages[req.KnownRef]; ok && msg.ChannelID == req.ChannelID {
			msg.Content = string(req.Structure)
			msg.Edits++
			return req.KnownRef
		}
	}
	s.nextID++
	msg := &Message{
		ChannelID: req.ChannelID,
		MessageID: strconv.FormatInt(s.nextID, 10),
		Content:   string(req.Structure),
	}
	ref := msg.Ref()
	s.messages[ref] = msg
	return ref
}

func (s *surface) remove(ref dashboard.ArtifactRef) bool {
	if _, ok := s.messages[ref]; !ok {
		return false
	}
	delete(s.messages, ref)
	return true
}

func (s *surface) get(ref dashboard.ArtifactRef) (Message, bool) {
	msg, ok := s.messages[ref]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// list returns messages ordered by channel then numeric message id. An empty
// channelID lists every channel.
func (s *surface) list(channelID string) []Message {
	out := []Message{}
	for _, msg := range s.messages {
		if channelID == "" || msg.ChannelID == channelID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChannelID != out[j].ChannelID {
			return out[i].ChannelID < out[j].ChannelID
		}
		if len(out[i].MessageID) != len(out[j].MessageID) {
			return len(out[i].MessageID) < len(out[j].MessageID)
		}
		return strings.Compare(out[i].MessageID, out[j].MessageID) < 0
	})
	return out
}
