package channels

import (
	"sort"
	"sync"

	"mcpchat/pkg/api"
	"mcpchat/pkg/config"
	"mcpchat/pkg/monitor"
)

// Deps carries the shared resources a channel may need at construction.
type Deps struct {
	App     *config.Config
	System  *config.SystemConfig
	Metrics *monitor.Metrics
}

// ChannelFactory defines the abstract interface for platform-specific
// channel creators. This allows the system to support new platforms
// without modifying the core gateway logic.
type ChannelFactory interface {
	// Create instantiates a concrete Channel implementation. A nil channel
	// with a nil error means the platform is not configured and is skipped.
	Create(deps Deps) (api.Channel, error)
}

var (
	registryMu sync.RWMutex
	// channelRegistry maps platform names (e.g., "telegram") to their factories.
	channelRegistry = make(map[string]ChannelFactory)
)

// RegisterChannel adds a new ChannelFactory to the global internal registry.
// This is typically called during the package's init() phase.
func RegisterChannel(name string, factory ChannelFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := channelRegistry[name]
	return f, ok
}

// Names lists the registered platform names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(channelRegistry))
	for name := range channelRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
