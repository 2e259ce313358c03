package ailink

// Kind discriminates the events a link surfaces to its session.
type Kind int

const (
	// KindReady means the remote session accepted our configuration and
	// audio can start flowing.
	KindReady Kind = iota
	// KindAudioDelta carries a chunk of synthesized speech to play to
	// the caller.
	KindAudioDelta
	// KindCallerTranscript carries the finished transcription of a
	// caller utterance.
	KindCallerTranscript
	// KindAITranscript carries the text of a completed AI spoken turn.
	KindAITranscript
	// KindError is a non-fatal error reported by the remote service.
	KindError
	// KindClosed is the final event on the channel; the link is dead.
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindAudioDelta:
		return "audio_delta"
	case KindCallerTranscript:
		return "caller_transcript"
	case KindAITranscript:
		return "ai_transcript"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one item on the link's event channel. Which fields are set
// depends on Kind.
type Event struct {
	Kind  Kind
	Audio []byte // KindAudioDelta
	Text  string // KindCallerTranscript, KindAITranscript, KindError
	Err   error  // KindClosed, nil on clean shutdown
}

// clientMessage is the outbound wire envelope.
type clientMessage struct {
	Type     string           `json:"type"`
	Session  *sessionConfig   `json:"session,omitempty"`
	Response *responseRequest `json:"response,omitempty"`
	Audio    string           `json:"audio,omitempty"`
}

type sessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection `json:"turn_detection,omitempty"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type responseRequest struct {
	Instructions string `json:"instructions,omitempty"`
}

// serverMessage is the inbound wire envelope, decoded loosely: only the
// fields for the event types we handle.
type serverMessage struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
