package outbox

import (
	"context"
	"time"

	model "github.com/arcsolve/relay/internal/service/models/outbox"
	"github.com/spf13/viper"
)

// Profile configures one worker policy on the shared engine. The durable chat
// profile retries with backoff until the attempt cap; the one-shot document
// profile dead-letters on the first failure and reports it via OnDead.
type Profile struct {
	Name          string
	TypePrefix    string
	PollInterval  time.Duration
	ReapInterval  time.Duration
	BatchSize     int
	LeaseDuration time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration

	// OnDead runs after a row is dead-lettered, so a profile can surface the
	// failure on the owning entity when no further retry will happen.
	OnDead func(ctx context.Context, row model.Row, cause error)
}

// ChatProfile is the durable at-least-once profile for chat events.
func ChatProfile() Profile {
	return Profile{
		Name:          "chat",
		TypePrefix:    model.TypePrefixMessage,
		PollInterval:  durationSetting("relay.chat.poll_interval_ms", 1000),
		ReapInterval:  durationSetting("relay.chat.reap_interval_ms", 5000),
		BatchSize:     intSetting("relay.chat.batch_size", 100),
		LeaseDuration: durationSetting("relay.chat.lock_ms", 30_000),
		MaxAttempts:   intSetting("relay.chat.max_attempts", 8),
		BackoffBase:   durationSetting("relay.chat.backoff_base_ms", 1000),
		BackoffCap:    durationSetting("relay.chat.backoff_cap_ms", 60_000),
	}
}

// DocumentProfile is the one-shot best-effort profile for ingest triggers.
// The OnDead compensation is attached by the application wiring.
func DocumentProfile() Profile {
	return Profile{
		Name:          "document",
		TypePrefix:    model.TypePrefixDocument,
		PollInterval:  durationSetting("relay.document.poll_interval_ms", 1000),
		ReapInterval:  durationSetting("relay.document.reap_interval_ms", 5000),
		BatchSize:     intSetting("relay.document.batch_size", 50),
		LeaseDuration: durationSetting("relay.document.lock_ms", 60_000),
		MaxAttempts:   1,
		BackoffBase:   durationSetting("relay.document.backoff_base_ms", 1000),
		BackoffCap:    durationSetting("relay.document.backoff_cap_ms", 60_000),
	}
}

func intSetting(key string, fallback int) int {
	v := viper.GetInt(key)
	if v == 0 {
		return fallback
	}

	return v
}

func durationSetting(key string, fallbackMs int) time.Duration {
	ms := viper.GetInt(key)
	if ms == 0 {
		ms = fallbackMs
	}

	return time.Duration(ms) * time.Millisecond
}
