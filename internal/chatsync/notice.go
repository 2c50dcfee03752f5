package chatsync

import "log"

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
)

// Notice is a user-visible notification.
type Notice struct {
	Level       NoticeLevel
	Title       string
	Description string
}

type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type logNotifier struct{}

func (logNotifier) Notify(n Notice) {
	if n.Description == "" {
		log.Printf("notice: %s", n.Title)
		return
	}
	log.Printf("notice: %s: %s", n.Title, n.Description)
}
