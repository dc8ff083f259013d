package core

import "encoding/json"

// Relay event names. The relay forwards call-control and negotiation
// events between exactly two clients; payload shapes mirror what the
// relay emits.
const (
	EventInitiateCall     = "initiate_call"
	EventCallAccepted     = "call_accepted"
	EventCallRejected     = "call_rejected"
	EventTargetUnavail    = "target_unavailable"
	EventCallInitFailed   = "call_initiation_failed"
	EventIncomingCall     = "incoming_call_to_doctor"
	EventAcceptCall       = "accept_call"
	EventRejectCall       = "reject_call"
	EventUserBusy         = "user_busy"
	EventJoinRoom         = "join_room"
	EventSignal           = "signal"
	EventEndCall          = "end_call"
	EventForceDisconnect  = "force_disconnect"
)

// Negotiation payload kinds carried inside a signal event.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

type InitiateCallData struct {
	Target string `json:"target_user_identity"`
}

type CallAcceptedData struct {
	Callee    string `json:"callee_identity"`
	CalleeSID string `json:"callee_sid"`
	Room      string `json:"room_name"`
}

type CallRejectedData struct {
	Callee string `json:"callee_identity"`
}

type TargetUnavailableData struct {
	Target string `json:"target_identity"`
	Status string `json:"status"`
}

type CallInitFailedData struct {
	Target string `json:"target_identity"`
	Error  string `json:"error"`
}

type IncomingCallData struct {
	Caller     string `json:"caller_identity"`
	CallerSID  string `json:"caller_sid"`
	Room       string `json:"suggested_room"`
	CallerName string `json:"caller_name"`
}

type AcceptCallData struct {
	CallerSID string `json:"caller_sid"`
	Caller    string `json:"caller_identity"`
	Room      string `json:"room_name"`
}

type RejectCallData struct {
	CallerSID string `json:"caller_sid"`
	Caller    string `json:"caller_identity"`
}

type UserBusyData struct {
	TargetSID string `json:"target_sid"`
}

type JoinRoomData struct {
	Room string `json:"room"`
}

// SignalData relays one negotiation payload. Messages whose receiver is
// not the local identity, or whose sender is not the current remote
// party, must be dropped by the consumer.
type SignalData struct {
	Room     string          `json:"room"`
	Sender   string          `json:"sender_identity"`
	Receiver string          `json:"receiver_identity"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

type EndCallData struct {
	Room  string `json:"room"`
	Ender string `json:"ender_identity"`
}

type ForceDisconnectData struct {
	Message string `json:"message"`
}
