package channels

import (
	"log/slog"

	"mcpchat/pkg/api"
)

// Load acts as the central orchestration point for channel initialization.
// It asks every registered factory for its channel and returns the ones
// that are configured. A failing factory is logged and skipped so one broken
// platform does not take the web UI down with it.
func Load(deps Deps) []api.Channel {
	var out []api.Channel
	for _, name := range Names() {
		factory, _ := GetChannelFactory(name)

		channel, err := factory.Create(deps)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// If Create returns nil (e.g., certain conditions not met but not an error), skip
		if channel == nil {
			slog.Debug("Channel not configured, skipping", "name", name)
			continue
		}

		out = append(out, channel)
		slog.Info("Channel created", "name", name)
	}
	return out
}
