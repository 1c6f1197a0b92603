package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "~/agentgate-workspace",
			LogLevel:  "info",
		},
		Security: SecurityConfig{
			PolicyFile:   "~/.agentgate/policy.yaml",
			BaselineFile: "~/.agentgate/integrity.json",
			GraceSeconds: 2,
		},
		Audit: AuditConfig{
			DBPath:             "~/.agentgate/audit.db",
			Buffer:             1024,
			PreviewLen:         256,
			SinkTimeoutSeconds: 5,
		},
		HTTP: HTTPConfig{
			Enabled:            true,
			Host:               "127.0.0.1",
			Port:               8765,
			RateLimitPerMinute: 60,
			RateLimitBurst:     10,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Actions: ActionsConfig{
			Shell: ShellActionConfig{
				Shell:          "sh",
				Python:         "python3",
				MaxOutputBytes: 65536,
			},
			File: FileActionConfig{
				RestrictToWorkspace: false,
			},
			Browser: BrowserActionConfig{
				ProfileDir: "~/.agentgate/chrome-profile",
				Headless:   true,
			},
			SystemInfo: SystemInfoConfig{
				DiskPath: "/",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
