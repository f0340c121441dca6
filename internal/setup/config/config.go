package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/disgoorg/snowflake/v2"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion is the config file version this build understands.
const CurrentVersion = 1

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Discord    Discord    `koanf:"discord"`
	Engagement Engagement `koanf:"engagement"`
	Governance Governance `koanf:"governance"`
	Storage    Storage    `koanf:"storage"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Directory for log files. Empty disables file logging.
	LogDir string `koanf:"log_dir"`
}

// Discord contains the guild, channel and role identifiers the bot operates on.
type Discord struct {
	// Bot token.
	Token string `koanf:"token"`
	// Guild the bot serves.
	GuildID snowflake.ID `koanf:"guild_id"`
	// Channel where proposals are posted and voted on.
	ProposalChannelID snowflake.ID `koanf:"proposal_channel_id"`
	// Channel for outcome and audit notifications.
	NotifyChannelID snowflake.ID `koanf:"notify_channel_id"`
	// Channels whose messages never count toward engagement.
	ExcludedChannels []snowflake.ID `koanf:"excluded_channels"`
	// Base membership role. Holders are tracked and may vote.
	BaseRoleID snowflake.ID `koanf:"base_role_id"`
	// Role granted for sustained daily activity.
	OratorRoleID snowflake.ID `koanf:"orator_role_id"`
	// Role granted for burst activity.
	DankRoleID snowflake.ID `koanf:"dank_role_id"`
	// Privilege roles ordered from lowest to highest. Used to decide
	// whether a member's current standing already exceeds a role.
	PrivilegeRoles []snowflake.ID `koanf:"privilege_roles"`
}

// Engagement contains the thresholds and durations of the activity tracks.
type Engagement struct {
	// Consolidated messages over the rolling week needed for the orator role.
	OratorThreshold int `koanf:"orator_threshold"`
	// Days the orator role lasts once granted.
	OratorDurationDays int `koanf:"orator_duration_days"`
	// Messages inside the burst window needed for the dank role.
	DankThreshold int `koanf:"dank_threshold"`
	// Days spanning both the burst window and the dank role duration.
	DankDurationDays int `koanf:"dank_duration_days"`
	// Days without a new violation before strikes are wiped.
	ViolationsResetDays int `koanf:"violations_reset_days"`
}

// Governance contains proposal voting configuration.
type Governance struct {
	// Days a proposal stays open before expiring.
	PollDurationDays int `koanf:"poll_duration_days"`
}

// Storage contains durable store locations.
type Storage struct {
	// Directory holding the member and proposal stores.
	Dir string `koanf:"dir"`
}

// MembersPath returns the member store file location.
func (s *Storage) MembersPath() string {
	return s.Dir + "/members.json"
}

// ProposalsPath returns the proposal store file location.
func (s *Storage) ProposalsPath() string {
	return s.Dir + "/proposals.json"
}

// LoadConfig searches the known config paths and loads the first
// config.toml found, validating its version.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".agora",
		homeDir + "/.agora/config",
		"/etc/agora/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		configPath := path + "/config.toml"
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkConfigVersion ensures the loaded file matches the version this
// build expects, pointing the operator at the migration otherwise.
func checkConfigVersion(version int) error {
	if version == 0 {
		return ErrConfigVersionMissing
	}

	if version != CurrentVersion {
		return fmt.Errorf("%w: found version %d, expected version %d.\n"+
			"Please update your config.toml to the latest format",
			ErrConfigVersionMismatch, version, CurrentVersion)
	}

	return nil
}
