package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy the venues map so mutations to the redacted copy do not affect the
	// original, then redact each credential.
	if cfg.Venues != nil {
		out.Venues = make(map[string]VenueConfig, len(cfg.Venues))
		for name, v := range cfg.Venues {
			redact(&v.APIKey)
			redact(&v.KeyPassword)
			out.Venues[name] = v
		}
	}

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Risk.BlockedVenues != nil {
		out.Risk.BlockedVenues = make([]string, len(cfg.Risk.BlockedVenues))
		copy(out.Risk.BlockedVenues, cfg.Risk.BlockedVenues)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
