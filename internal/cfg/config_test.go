package cfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/depflow/internal/updater"
)

const exampleConfig = `
http_server_listen_addr = ":8084"
github_api_token = "token123"
github_bot_user = "depflow-bot"
pcs_base_url = "https://pcs.example.com"
coherency_policy = "strict"
log_format = "logfmt"

[[subscription]]
id = "core-to-app"
channel = "stable"
source_repository = "https://github.com/o/core"
target_owner = "o"
target_repository = "app"
target_branch = "main"
update_frequency = "every_build"
filter_query = '.build.assets | length > 0'

[[subscription]]
id = "core-to-tools"
channel = "stable"
source_repository = "https://github.com/o/core"
target_owner = "o"
target_repository = "tools"
batchable = true
update_frequency = "every_day"
source_enabled = true
`

func TestLoad(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, ":8084", config.HTTPListenAddr)
	assert.Equal(t, "token123", config.GithubAPIToken)
	assert.Equal(t, "https://pcs.example.com", config.PCSBaseURL)
	require.Len(t, config.Subscriptions, 2)

	first := config.Subscriptions[0]
	assert.Equal(t, "core-to-app", first.ID)
	assert.Equal(t, "main", first.TargetBranch)
	assert.False(t, first.Batchable)

	second := config.Subscriptions[1]
	assert.True(t, second.Batchable)
	assert.True(t, second.SourceEnabled)
	assert.Equal(t, "every_day", second.UpdateFrequency)
}

func TestDefaultsApplied(t *testing.T) {
	config, err := Load(strings.NewReader(`
[[subscription]]
id = "s1"
channel = "stable"
source_repository = "https://github.com/o/core"
target_owner = "o"
target_repository = "app"
`))
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, ":8084", config.HTTPListenAddr)
	assert.Equal(t, "/builds", config.HTTPBuildEndpoint)
	assert.Equal(t, "strict", config.CoherencyPolicy)
	assert.Equal(t, "main", config.Subscriptions[0].TargetBranch)
	assert.Equal(t, "every_build", config.Subscriptions[0].UpdateFrequency)
}

func TestValidateRejectsBadFrequency(t *testing.T) {
	config, err := Load(strings.NewReader(`
coherency_policy = "strict"

[[subscription]]
id = "s1"
channel = "stable"
source_repository = "https://github.com/o/core"
target_owner = "o"
target_repository = "app"
update_frequency = "hourly"
`))
	require.NoError(t, err)
	assert.Error(t, config.Validate())
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	config, err := Load(strings.NewReader(`
[[subscription]]
id = "s1"
channel = "stable"
source_repository = "https://github.com/o/core"
target_owner = "o"
target_repository = "app"

[[subscription]]
id = "s1"
channel = "stable"
source_repository = "https://github.com/o/core"
target_owner = "o"
target_repository = "tools"
`))
	require.NoError(t, err)
	assert.Error(t, config.Validate())
}

func TestUpdaterSubscriptions(t *testing.T) {
	config, err := Load(strings.NewReader(exampleConfig))
	require.NoError(t, err)

	subs := config.UpdaterSubscriptions()
	require.Len(t, subs, 2)

	assert.Equal(t, updater.FrequencyEveryBuild, subs[0].UpdateFrequency)
	assert.Equal(t, "o", subs[0].TargetOwner)
	assert.Equal(t, "app", subs[0].TargetRepo)
	assert.True(t, subs[1].SourceEnabled)
}
