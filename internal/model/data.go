package model

import "time"

// ScanRequest is the body POSTed to the API for every tag read.
type ScanRequest struct {
	UID string `json:"uid"`
}

// Outcome names how a forwarded scan ended.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// ScanEvent describes one forwarded tag. It is broadcast to live feed clients.
type ScanEvent struct {
	ID         string    `json:"id"`
	UID        string    `json:"uid"`
	Port       string    `json:"port"`
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type WsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}
