package config

import "time"

func (c *UserConfig) ApplyDefaults() {
	if c.SchemaVersion == 0 {
		c.SchemaVersion = 1
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogFormat == "" {
		c.App.LogFormat = "json"
	}
	if c.App.MetricsAddr == "" {
		c.App.MetricsAddr = ":9090"
	}
	if c.App.Buffer == 0 {
		c.App.Buffer = 1000
	}
	if c.App.ShutdownTimeout.Duration == 0 {
		c.App.ShutdownTimeout.Duration = 30 * time.Second
	}
	if c.App.Dedup.Enabled() {
		if c.App.Dedup.TTL.Duration == 0 {
			c.App.Dedup.TTL.Duration = 10 * time.Minute
		}
		if c.App.Dedup.Prefix == "" {
			c.App.Dedup.Prefix = "brokerbridge:seen:"
		}
	}
	for i := range c.Inputs {
		if c.Inputs[i].Codec == "" {
			c.Inputs[i].Codec = "plain"
		}
	}
	for i := range c.Outputs {
		if c.Outputs[i].Codec == "" {
			c.Outputs[i].Codec = "plain"
		}
	}
}
