package web

import (
	"mcpchat/pkg/api"
	"mcpchat/pkg/channels"
)

// WebFactory 負責建立 Web Channel
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(deps channels.Deps) (api.Channel, error) {
	cfg := WebConfig{Port: 7860}
	if deps.App != nil && deps.App.AppPort > 0 {
		cfg.Port = deps.App.AppPort
	}
	return NewWebChannel(cfg, deps.Metrics), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
