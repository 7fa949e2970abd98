// Package ipc implements a request/response and broadcast messaging layer on
// top of a shared publish/subscribe channel.
//
// Independent processes attached to the same channel call named operations on
// each other and optionally wait for a single correlated reply. Replies are
// matched to outstanding requests by a per-call nonce; every instance tags
// outgoing envelopes with its identity and can address a request to one
// specific peer via the required_identity field.
package ipc

import "encoding/json"

// JSON is any JSON-like value: string, number, bool, nil, []JSON or
// map[string]JSON, recursively.
type JSON = interface{}

// Envelope is the wire message exchanged over the channel. It is encoded as
// a UTF-8 JSON object; optional fields are omitted rather than null, while
// data is always present.
//
// An envelope with Op set is a request. A present Nonce on a request signals
// that the sender expects a correlated reply; an absent one signals
// fire-and-forget. An envelope with Op empty and Nonce set is a reply.
type Envelope struct {
	Op               string `json:"op,omitempty"`
	Data             JSON   `json:"data"`
	Sender           string `json:"sender"`
	Nonce            string `json:"nonce,omitempty"`
	RequiredIdentity string `json:"required_identity,omitempty"`
}

// IsReply reports whether the envelope is a correlated reply rather than a
// request.
func (e *Envelope) IsReply() bool {
	return e.Op == "" && e.Nonce != ""
}

// EncodeEnvelope serializes an envelope to JSON bytes.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope deserializes JSON bytes into an envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
