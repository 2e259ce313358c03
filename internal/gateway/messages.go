package gateway

// Wire shapes for the provider's media-stream WebSocket protocol. Inbound
// frames share one envelope discriminated by Event; only the fields we
// consume are decoded.

type inboundMessage struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid,omitempty"`
	Start     *startFrame `json:"start,omitempty"`
	Media     *mediaFrame `json:"media,omitempty"`
	Stop      *stopFrame  `json:"stop,omitempty"`
}

type startFrame struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      mediaFormat       `json:"mediaFormat"`
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type mediaFrame struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type stopFrame struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// outboundMedia is the only frame we send back: synthesized audio for the
// caller, addressed by stream SID.
type outboundMedia struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     outboundChunk `json:"media"`
}

type outboundChunk struct {
	Payload string `json:"payload"`
}
