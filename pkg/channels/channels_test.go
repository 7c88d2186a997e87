package channels

import (
	"errors"
	"testing"

	"mcpchat/pkg/api"
	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct{ id string }

func (c *stubChannel) ID() string                                               { return c.id }
func (c *stubChannel) Start(api.ChannelContext) error                           { return nil }
func (c *stubChannel) Stop() error                                              { return nil }
func (c *stubChannel) Send(api.SessionContext, string) error                    { return nil }
func (c *stubChannel) Stream(api.SessionContext, <-chan llm.ContentBlock) error { return nil }

type factoryFunc func(Deps) (api.Channel, error)

func (f factoryFunc) Create(deps Deps) (api.Channel, error) { return f(deps) }

func TestLoadSkipsUnconfiguredAndFailingChannels(t *testing.T) {
	var seen *config.Config
	RegisterChannel("alpha", factoryFunc(func(d Deps) (api.Channel, error) {
		seen = d.App
		return &stubChannel{id: "alpha"}, nil
	}))
	RegisterChannel("beta", factoryFunc(func(Deps) (api.Channel, error) { return nil, nil }))
	RegisterChannel("gamma", factoryFunc(func(Deps) (api.Channel, error) { return nil, errors.New("bad token") }))

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, Names())

	app := &config.Config{AppPort: 9000}
	loaded := Load(Deps{App: app})
	require.Len(t, loaded, 1)
	assert.Equal(t, "alpha", loaded[0].ID())
	assert.Same(t, app, seen)

	_, ok := GetChannelFactory("delta")
	assert.False(t, ok)
}
