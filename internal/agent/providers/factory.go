package providers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/config"
)

// ProviderProfile is a named override of a ProviderSpec's fields (API key,
// base URL, model), selected by appending "#profile" to the provider ID
// passed to BuildProvider. It lets one provider config (e.g. "openai")
// expose several distinct accounts or endpoints.
type ProviderProfile struct {
	APIKey       string
	DefaultModel string
	BaseURL      string
	APIVersion   string
}

// ProviderSpec is the subset of an LLM provider's configuration that
// BuildProvider needs to construct it, independent of the on-disk config
// format.
type ProviderSpec struct {
	APIKey       string
	DefaultModel string
	BaseURL      string
	APIVersion   string
	Profiles     map[string]ProviderProfile
}

// ProviderSpecsFromConfig adapts config.LLMConfig.Providers into the
// ProviderSpec map BuildProvider consumes.
func ProviderSpecsFromConfig(cfg map[string]config.LLMProviderConfig) map[string]ProviderSpec {
	specs := make(map[string]ProviderSpec, len(cfg))
	for id, pc := range cfg {
		spec := ProviderSpec{
			APIKey:       pc.APIKey,
			DefaultModel: pc.DefaultModel,
			BaseURL:      pc.BaseURL,
			APIVersion:   pc.APIVersion,
		}
		if len(pc.Profiles) > 0 {
			spec.Profiles = make(map[string]ProviderProfile, len(pc.Profiles))
			for name, p := range pc.Profiles {
				spec.Profiles[name] = ProviderProfile{
					APIKey:       p.APIKey,
					DefaultModel: p.DefaultModel,
					BaseURL:      p.BaseURL,
					APIVersion:   p.APIVersion,
				}
			}
		}
		specs[id] = spec
	}
	return specs
}

// splitProviderProfileID splits "openai#work" into ("openai", "work").
func splitProviderProfileID(providerID string) (string, string) {
	if idx := strings.IndexByte(providerID, '#'); idx >= 0 {
		return providerID[:idx], providerID[idx+1:]
	}
	return providerID, ""
}

func resolveProviderProfile(spec ProviderSpec, profileID string) (ProviderSpec, error) {
	if profileID == "" {
		return spec, nil
	}
	profile, ok := spec.Profiles[profileID]
	if !ok {
		return ProviderSpec{}, fmt.Errorf("profile %q not found", profileID)
	}
	resolved := spec
	if profile.APIKey != "" {
		resolved.APIKey = profile.APIKey
	}
	if profile.DefaultModel != "" {
		resolved.DefaultModel = profile.DefaultModel
	}
	if profile.BaseURL != "" {
		resolved.BaseURL = profile.BaseURL
	}
	if profile.APIVersion != "" {
		resolved.APIVersion = profile.APIVersion
	}
	return resolved, nil
}

// BuildProvider constructs the LLMProvider named by providerID (optionally
// "<id>#<profile>") from the given provider config map and Bedrock region,
// returning the provider along with its effective default model.
//
// reference-sse is included alongside the SDK-backed providers so the raw
// SSE decoder path (internal/agent/sse) is reachable from real provider
// selection rather than only its own tests.
func BuildProvider(specs map[string]ProviderSpec, bedrockRegion, providerID string) (agent.LLMProvider, string, error) {
	baseID, profileID := splitProviderProfileID(providerID)
	providerKey := strings.ToLower(strings.TrimSpace(baseID))
	spec, ok := specs[providerKey]
	if !ok {
		spec, ok = specs[baseID]
	}
	if !ok {
		return nil, "", fmt.Errorf("provider config missing for %q", providerID)
	}
	cfg, err := resolveProviderProfile(spec, profileID)
	if err != nil {
		return nil, "", err
	}

	switch providerKey {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, "", errors.New("anthropic api key is required")
		}
		provider, err := NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
			BaseURL:      cfg.BaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, cfg.DefaultModel, nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, "", errors.New("openai api key is required")
		}
		provider := NewOpenAIProvider(cfg.APIKey)
		return provider, cfg.DefaultModel, nil
	case "google", "gemini":
		if cfg.APIKey == "" {
			return nil, "", errors.New("google api key is required")
		}
		provider, err := NewGoogleProvider(GoogleConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, cfg.DefaultModel, nil
	case "openrouter":
		if cfg.APIKey == "" {
			return nil, "", errors.New("openrouter api key is required")
		}
		provider, err := NewOpenRouterProvider(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, cfg.DefaultModel, nil
	case "azure":
		if cfg.APIKey == "" {
			return nil, "", errors.New("azure api key is required")
		}
		endpoint := strings.TrimSpace(cfg.BaseURL)
		if endpoint == "" {
			return nil, "", errors.New("azure endpoint (base_url) is required")
		}
		apiVersion := strings.TrimSpace(cfg.APIVersion)
		if apiVersion == "" {
			apiVersion = strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_VERSION"))
		}
		provider, err := NewAzureOpenAIProvider(AzureOpenAIConfig{
			Endpoint:     endpoint,
			APIKey:       cfg.APIKey,
			APIVersion:   apiVersion,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, cfg.DefaultModel, nil
	case "bedrock":
		provider, err := NewBedrockProvider(BedrockConfig{
			Region:       strings.TrimSpace(bedrockRegion),
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, cfg.DefaultModel, nil
	case "ollama":
		defaultModel := strings.TrimSpace(cfg.DefaultModel)
		if defaultModel == "" {
			defaultModel = "llama3"
		}
		provider := NewOllamaProvider(OllamaConfig{
			BaseURL:      cfg.BaseURL,
			DefaultModel: defaultModel,
		})
		return provider, defaultModel, nil
	case "copilot-proxy":
		var modelList []string
		if strings.TrimSpace(cfg.DefaultModel) != "" {
			modelList = []string{strings.TrimSpace(cfg.DefaultModel)}
		}
		provider, err := NewCopilotProxyProvider(CopilotProxyConfig{
			BaseURL: cfg.BaseURL,
			Models:  modelList,
		})
		if err != nil {
			return nil, "", err
		}
		return provider, cfg.DefaultModel, nil
	case "reference-sse":
		if cfg.APIKey == "" {
			return nil, "", errors.New("reference-sse api key is required")
		}
		provider := NewReferenceSSEProvider(ReferenceSSEConfig{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
		})
		return provider, cfg.DefaultModel, nil
	default:
		return nil, "", fmt.Errorf("unsupported provider %q", providerKey)
	}
}
