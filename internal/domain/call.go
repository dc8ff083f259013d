package domain

type CallStatus string

const (
	CallIdle     CallStatus = "idle"
	CallDialing  CallStatus = "dialing"
	CallIncoming CallStatus = "incoming"
	CallActive   CallStatus = "active"
	// CallEnded is transient: teardown folds an ended call straight
	// back to CallIdle, so external state reads never observe it.
	CallEnded CallStatus = "ended"
)

// Call holds the meta of the single pending or active call.
// The initiator flag is fixed at creation and never flips.
type Call struct {
	RemoteParty UserID
	RemoteName  string
	RemoteSID   string
	Room        RoomID
	Initiator   bool
	Status      CallStatus
	Title       string

	// Epoch is a monotonically increasing stamp assigned by the
	// coordinator. Relay events and async callbacks created under an
	// older epoch are inert.
	Epoch uint64
}

// NewOutboundCall avoids raw literals in adapters and keeps construction obvious.
func NewOutboundCall(remote UserID, title string, epoch uint64) *Call {
	return &Call{
		RemoteParty: remote,
		Initiator:   true,
		Status:      CallDialing,
		Title:       title,
		Epoch:       epoch,
	}
}

func NewInboundCall(remote UserID, remoteName, remoteSID string, room RoomID, epoch uint64) *Call {
	return &Call{
		RemoteParty: remote,
		RemoteName:  remoteName,
		RemoteSID:   remoteSID,
		Room:        room,
		Initiator:   false,
		Status:      CallIncoming,
		Epoch:       epoch,
	}
}
