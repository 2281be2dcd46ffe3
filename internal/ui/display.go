package ui

import "time"

// MessageView is one rendered chat line. State is empty for confirmed
// messages, "pending" while persistence is in flight, "failed" when it
// needs a retry.
type MessageView struct {
	Sender   string    `json:"sender"`
	Content  string    `json:"content"`
	ImageURL string    `json:"imageUrl,omitempty"`
	At       time.Time `json:"at"`
	Own      bool      `json:"own"`
	State    string    `json:"state,omitempty"`
}

// ChatEntry is one row of the chat list.
type ChatEntry struct {
	UserID      int64  `json:"userId"`
	Name        string `json:"name"`
	Online      bool   `json:"online"`
	UnreadCount int    `json:"unreadCount"`
}

// Notification is used for system level alerts such as new posts or DMs
// outside the open conversation.
type Notification struct {
	Text      string    `json:"text"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
}

// Sink is the unified interface every UI surface must satisfy.
type Sink interface {
	ShowMessage(MessageView)
	ShowSystem(string)
	UpdateChats([]ChatEntry)
	ShowTyping(name string, typing bool)
	ShowNotification(Notification)
}

type multiSink struct {
	sinks []Sink
}

// NewMultiSink fans chat events out to each registered sink.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) ShowMessage(msg MessageView) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowMessage(msg)
		}
	}
}

func (m *multiSink) ShowSystem(text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowSystem(text)
		}
	}
}

func (m *multiSink) UpdateChats(entries []ChatEntry) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.UpdateChats(entries)
		}
	}
}

func (m *multiSink) ShowTyping(name string, typing bool) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowTyping(name, typing)
		}
	}
}

func (m *multiSink) ShowNotification(n Notification) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowNotification(n)
		}
	}
}
