// Package cfg loads the depflow configuration from a TOML document.
package cfg

import (
	"errors"
	"fmt"
	"io"

	"github.com/pelletier/go-toml"

	"github.com/simplesurance/depflow/internal/coherency"
	"github.com/simplesurance/depflow/internal/updater"
)

type Config struct {
	HTTPListenAddr    string `toml:"http_server_listen_addr" default:":8084"`
	HTTPBuildEndpoint string `toml:"build_endpoint" default:"/builds"`
	GithubAPIToken    string `toml:"github_api_token"`
	GithubBotUser     string `toml:"github_bot_user"`
	PCSBaseURL        string `toml:"pcs_base_url"`
	// PostgresDSN selects the durable state store, when empty state is
	// kept in memory and lost on restart.
	PostgresDSN     string          `toml:"postgres_dsn"`
	CoherencyPolicy string          `toml:"coherency_policy" default:"strict"`
	LogFormat       string          `toml:"log_format" default:"logfmt"`
	LogLevel        string          `toml:"log_level" default:"info"`
	LogTimeKey      string          `toml:"log_time_key"`
	Subscriptions   []*Subscription `toml:"subscription"`
}

type Subscription struct {
	ID               string `toml:"id"`
	Channel          string `toml:"channel"`
	SourceRepository string `toml:"source_repository"`
	TargetOwner      string `toml:"target_owner"`
	TargetRepository string `toml:"target_repository"`
	TargetBranch     string `toml:"target_branch" default:"main"`
	Batchable        bool   `toml:"batchable"`
	UpdateFrequency  string `toml:"update_frequency" default:"every_build"`
	SourceEnabled    bool   `toml:"source_enabled"`
	FilterQuery      string `toml:"filter_query"`
}

func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}

func (c *Config) Validate() error {
	switch coherency.Policy(c.CoherencyPolicy) {
	case coherency.PolicyStrict, coherency.PolicyLegacy:
	default:
		return fmt.Errorf("coherency_policy: unsupported value: %q", c.CoherencyPolicy)
	}

	seen := map[string]struct{}{}

	for i, sub := range c.Subscriptions {
		if err := sub.validate(); err != nil {
			return fmt.Errorf("subscription %d: %w", i, err)
		}

		if _, exist := seen[sub.ID]; exist {
			return fmt.Errorf("subscription %d: duplicate id: %q", i, sub.ID)
		}

		seen[sub.ID] = struct{}{}
	}

	return nil
}

func (s *Subscription) validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}

	if s.Channel == "" {
		return errors.New("channel is required")
	}

	if s.SourceRepository == "" {
		return errors.New("source_repository is required")
	}

	if s.TargetOwner == "" || s.TargetRepository == "" {
		return errors.New("target_owner and target_repository are required")
	}

	switch updater.UpdateFrequency(s.UpdateFrequency) {
	case updater.FrequencyEveryBuild, updater.FrequencyEveryDay,
		updater.FrequencyEveryWeek, updater.FrequencyNone:
	default:
		return fmt.Errorf("update_frequency: unsupported value: %q", s.UpdateFrequency)
	}

	return nil
}

// UpdaterSubscriptions converts the configured subscriptions to the
// updater's representation.
func (c *Config) UpdaterSubscriptions() []*updater.Subscription {
	result := make([]*updater.Subscription, 0, len(c.Subscriptions))

	for _, sub := range c.Subscriptions {
		result = append(result, &updater.Subscription{
			ID:              sub.ID,
			Channel:         sub.Channel,
			SourceRepoURL:   sub.SourceRepository,
			TargetOwner:     sub.TargetOwner,
			TargetRepo:      sub.TargetRepository,
			TargetBranch:    sub.TargetBranch,
			Batchable:       sub.Batchable,
			UpdateFrequency: updater.UpdateFrequency(sub.UpdateFrequency),
			SourceEnabled:   sub.SourceEnabled,
			Policy:          coherency.Policy(c.CoherencyPolicy),
			FilterQuery:     sub.FilterQuery,
		})
	}

	return result
}
