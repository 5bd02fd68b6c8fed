package protocol

// Ping results reported by the discovery service. An instance that
// receives NoLongerActive must terminate; its supervisor restarts it
// and registration mints a fresh identity.
const (
	PingOk             = "Ok"
	PingNoLongerActive = "NoLongerActive"
)

// Instance identifies a registered chatroom instance.
type Instance struct {
	InstanceID int32  `json:"instance_id"`
	Address    string `json:"address"`
}

// RegisterRequest enrolls an instance under its advertised address.
type RegisterRequest struct {
	ListenAddress string `json:"listen_address"`
}

// RegisterResponse carries the minted lease identity.
type RegisterResponse struct {
	InstanceID int32 `json:"instance_id"`
}

// PingRequest renews an instance lease.
type PingRequest struct {
	ListenAddress string `json:"listen_address"`
	InstanceID    int32  `json:"instance_id"`
}

// PingResponse reports whether the lease is still live.
type PingResponse struct {
	PingResult string `json:"ping_result"`
}

// ChatroomRequest asks which instance hosts the room for a term.
type ChatroomRequest struct {
	Term string `json:"term"`
}

// ChatroomResponse names the instance bound to the term. Instance is
// null when no active instance exists.
type ChatroomResponse struct {
	Instance *Instance `json:"instance"`
}
