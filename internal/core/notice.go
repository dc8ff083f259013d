package core

import "time"

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// Notice is one user-facing message pushed to the UI.
type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
	At    time.Time   `json:"at"`
}

// Notifier is the fire-and-forget UI notification sink.
type Notifier interface {
	Notify(level NoticeLevel, text string)
}
