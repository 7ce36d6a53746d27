package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:             "info",
			DefaultProvider:      "gemini",
			FailoverChain:        nil,
			OracleTimeoutSeconds: 30,
			SendTimeoutSeconds:   30,
			MaxTokens:            1024,
			Temperature:          0.7,
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      true,
				APIBase:      "https://generativelanguage.googleapis.com/v1beta",
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-2.5-flash",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Webhook: WebhookConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			Path:        "/webhook",
			VerifyToken: "${WEBHOOK_VERIFY_TOKEN}",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
			},
			Evolution: EvolutionConfig{
				Enabled: false,
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Persona: PersonaConfig{},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.wandabot/actions.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
