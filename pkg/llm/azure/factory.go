package azure

import (
	"fmt"
	"log/slog"

	"mcpchat/pkg/config"
	"mcpchat/pkg/llm"
)

// AzureFactory handles creation of Azure OpenAI clients, one per deployment.
type AzureFactory struct{}

// Create implements ProviderFactory
func (f *AzureFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}
	apiVersion, _ := cfg.Options["api_version"].(string)

	var clients []llm.LLMClient
	var lastErr error
	for _, deployment := range cfg.Models {
		client, err := NewClient(Options{
			Endpoint:      cfg.BaseURL,
			APIKey:        apiKey,
			APIVersion:    apiVersion,
			Deployment:    deployment,
			Debug:         sys.DebugChunks,
			ChannelBuffer: sys.InternalChannelBuffer,
		})
		if err != nil {
			slog.Error("Failed to create Azure OpenAI client", "deployment", deployment, "error", err)
			lastErr = err
			continue
		}
		clients = append(clients, client)
	}

	if len(clients) == 0 && lastErr != nil {
		return nil, fmt.Errorf("azure: %w", lastErr)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider(llm.ProviderAzure, &AzureFactory{})
}
