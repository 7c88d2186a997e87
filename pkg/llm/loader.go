package llm

import (
	"fmt"
	"log/slog"
	"time"

	"mcpchat/pkg/config"
)

// ProviderAzure is the provider type served by pkg/llm/azure.
const ProviderAzure = "azure"

// GroupsFromConfig 把環境設定轉成 provider groups：一個 azure group，
// models 依序為主要 deployment 與 fallback deployments
func GroupsFromConfig(cfg *config.Config) []ProviderGroupConfig {
	return []ProviderGroupConfig{{
		Type:    ProviderAzure,
		APIKeys: []string{cfg.AzureAPIKey},
		Models:  cfg.Deployments(),
		BaseURL: cfg.AzureEndpoint,
		Options: map[string]any{
			"api_version": cfg.AzureAPIVersion,
		},
	}}
}

// NewFromConfig 根據設定建立 LLM Client
// 多個 client 或允許重試時包在 FallbackClient 中，最外層再加上 circuit breaker
func NewFromConfig(groups []ProviderGroupConfig, system *config.SystemConfig) (LLMClient, error) {
	var allAtomicClients []LLMClient

	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create clients", "type", group.Type, "error", err)
			continue
		}

		allAtomicClients = append(allAtomicClients, clients...)
	}

	if len(allAtomicClients) == 0 {
		return nil, ErrNoClients
	}

	slog.Info("LLM clients initialized", "count", len(allAtomicClients))

	var client LLMClient = allAtomicClients[0]
	if len(allAtomicClients) > 1 || system.MaxRetries > 1 {
		client = &FallbackClient{
			Clients:    allAtomicClients,
			MaxRetries: system.MaxRetries,
			RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
		}
	}

	if system.BreakerMinRequests > 0 && system.BreakerFailureRatio > 0 {
		client = NewBreakerClient(client, BreakerConfig{
			Name:             fmt.Sprintf("%s-chat", groups[0].Type),
			FailureThreshold: system.BreakerFailureRatio,
			MinRequests:      system.BreakerMinRequests,
			OpenTimeout:      time.Duration(system.BreakerOpenSeconds) * time.Second,
		})
	}

	return client, nil
}
