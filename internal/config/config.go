package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        int
	DatabaseURL string
	NatsURL     string
	LogLevel    string

	OpenAIAPIKey  string
	RealtimeURL   string
	RealtimeModel string
	Voice         string
	SystemPrompt  string
	Greeting      string

	GeminiAPIKey string
	SummaryModel string

	UrgencyKeywords []string
	IntentLabels    []string

	LinkOpenTimeout    time.Duration
	FinalizeGrace      time.Duration
	CallerAudioQueue   int
	OutboundFrameQueue int

	SlackBotToken     string
	SlackAlertChannel string
}

const defaultInstructions = "You are a friendly, professional phone receptionist for a support line. " +
	"Keep answers short and conversational; this is a live phone call. " +
	"Collect the caller's issue, reassure them, and let them know the team will follow up."

const defaultGreeting = "Greet the caller warmly, introduce yourself as the support assistant, and ask how you can help."

func Load() Config {
	return Config{
		Port:        envInt("SWITCHBOARD_PORT", 8600),
		DatabaseURL: envStr("DATABASE_URL", ""),
		NatsURL:     envStr("NATS_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		RealtimeURL:   envStr("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel: envStr("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		Voice:         envStr("AI_VOICE", "alloy"),
		SystemPrompt:  envStr("AI_INSTRUCTIONS", defaultInstructions),
		Greeting:      envStr("AI_GREETING", defaultGreeting),

		GeminiAPIKey: envStr("GEMINI_API_KEY", ""),
		SummaryModel: envStr("SUMMARY_MODEL", "gemini-2.0-flash"),

		UrgencyKeywords: envList("URGENCY_KEYWORDS",
			"emergency", "urgent", "immediately", "right away", "critical", "asap", "as soon as possible"),
		IntentLabels: envList("INTENT_LABELS",
			"Technical Support", "Sales Inquiry", "Billing Question", "General Inquiry", "Complaint", "Other"),

		LinkOpenTimeout:    time.Duration(envInt("LINK_OPEN_TIMEOUT_MS", 10000)) * time.Millisecond,
		FinalizeGrace:      time.Duration(envInt("FINALIZE_GRACE_MS", 15000)) * time.Millisecond,
		CallerAudioQueue:   envInt("CALLER_AUDIO_QUEUE", 128),
		OutboundFrameQueue: envInt("OUTBOUND_FRAME_QUEUE", 64),

		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel: envStr("SLACK_ALERT_CHANNEL", ""),
	}
}

// Credentials is the per-call connection configuration for the speech-AI
// service, resolved once at session start.
type Credentials struct {
	APIKey string
	URL    string
	Model  string
}

// ResolveCredentials looks up tenant-prefixed credentials
// (e.g. ACME_OPENAI_API_KEY for tenant "acme") and falls back to the
// process-wide defaults for anything unset.
func (c Config) ResolveCredentials(tenant string) Credentials {
	creds := Credentials{
		APIKey: c.OpenAIAPIKey,
		URL:    c.RealtimeURL,
		Model:  c.RealtimeModel,
	}
	if tenant == "" {
		return creds
	}

	prefix := envPrefix(tenant)
	if v := os.Getenv(prefix + "_OPENAI_API_KEY"); v != "" {
		creds.APIKey = v
	}
	if v := os.Getenv(prefix + "_OPENAI_REALTIME_URL"); v != "" {
		creds.URL = v
	}
	if v := os.Getenv(prefix + "_OPENAI_REALTIME_MODEL"); v != "" {
		creds.Model = v
	}
	return creds
}

// envPrefix normalizes a tenant identifier into an env-var prefix:
// uppercase, non-alphanumerics collapsed to underscores.
func envPrefix(tenant string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(tenant) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envList(key string, fallback ...string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
