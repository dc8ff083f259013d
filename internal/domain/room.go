package domain

// RoomID is the server-assigned identifier scoping which two parties'
// signaling messages belong to one call.
type RoomID string
