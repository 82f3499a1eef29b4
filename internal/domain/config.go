package domain

// SessionConfig is owned by the session client and only changed through
// an explicit patch.
type SessionConfig struct {
	ServerURL        string `json:"server_url,omitempty"`
	NoiseSuppression bool   `json:"noise_suppression"`
	EchoCancellation bool   `json:"echo_cancellation"`
	AutoGainControl  bool   `json:"auto_gain_control"`
}

// DefaultSessionConfig enables every audio processing stage.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		NoiseSuppression: true,
		EchoCancellation: true,
		AutoGainControl:  true,
	}
}

// ConfigPatch is a partial update; nil fields keep their prior value.
type ConfigPatch struct {
	ServerURL        *string
	NoiseSuppression *bool
	EchoCancellation *bool
	AutoGainControl  *bool
}

// Merge returns cfg with every set field of p applied.
func (cfg SessionConfig) Merge(p ConfigPatch) SessionConfig {
	if p.ServerURL != nil {
		cfg.ServerURL = *p.ServerURL
	}
	if p.NoiseSuppression != nil {
		cfg.NoiseSuppression = *p.NoiseSuppression
	}
	if p.EchoCancellation != nil {
		cfg.EchoCancellation = *p.EchoCancellation
	}
	if p.AutoGainControl != nil {
		cfg.AutoGainControl = *p.AutoGainControl
	}
	return cfg
}

// AudioConstraints describe how local audio should be captured.
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	ChannelCount     int
}

// Constraints derives capture constraints: 16 kHz mono voice.
func (cfg SessionConfig) Constraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
		AutoGainControl:  cfg.AutoGainControl,
		SampleRate:       16000,
		ChannelCount:     1,
	}
}
