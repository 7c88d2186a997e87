package gateway

import (
	"mcpchat/pkg/api"
)

// Re-export types from api package via aliases so channel and handler code
// can keep referring to gateway.* names.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type SessionContext = api.SessionContext

// MessageHandler is still defined here as a function type, or can be aliased.
type MessageHandler = api.MessageHandler
