package protocol

import "time"

// MessageType is the value of the "type" field that selects relay behaviour.
type MessageType string

const (
	TypeRegister         MessageType = "register"
	TypeCommand          MessageType = "command"
	TypeListNodes        MessageType = "list_nodes"
	TypeFindByCapability MessageType = "find_by_capability"
)

// Envelope is decoded first from every inbound frame to read the dispatch type.
// Frames without a type are command results when they arrive on a node's connection.
type Envelope struct {
	Type MessageType `json:"type"`
}

// Register is sent by a node right after connecting.
type Register struct {
	Type         MessageType  `json:"type"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registered acknowledges a Register message.
type Registered struct {
	Status               string   `json:"status"`
	Name                 string   `json:"name"`
	CapabilitiesReceived []string `json:"capabilities_received"`
}

// StatusRegistered is the Registered.Status value.
const StatusRegistered = "registered"

// CommandRequest asks the relay to forward Action to the node named Target.
type CommandRequest struct {
	Type   MessageType `json:"type"`
	Target string      `json:"target"`
	Action Action      `json:"action"`
}

// ListNodesRequest asks for a registry snapshot.
type ListNodesRequest struct {
	Type MessageType `json:"type"`
}

// NodeInfo is one registry entry in a ListNodesResponse.
type NodeInfo struct {
	Capabilities Capabilities `json:"capabilities"`
	ConnectedAt  time.Time    `json:"connected_at"`
	Online       bool         `json:"online"`
}

// ListNodesResponse answers a list_nodes request.
type ListNodesResponse struct {
	Nodes    []string            `json:"nodes"`
	Registry map[string]NodeInfo `json:"registry"`
}

// FindByCapabilityRequest asks for nodes declaring a truthy capability.
type FindByCapabilityRequest struct {
	Type       MessageType `json:"type"`
	Capability string      `json:"capability"`
}

// FindByCapabilityResponse answers a find_by_capability request.
type FindByCapabilityResponse struct {
	Capability string   `json:"capability"`
	Nodes      []string `json:"nodes"`
}
