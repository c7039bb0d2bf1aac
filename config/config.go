// Package config loads the charge point configuration from a YAML file,
// defaults and CHARGEPOINT_ environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/juju/errors"
	"github.com/spf13/viper"

	"charge_point/chargepoint"
)

// EnvPrefix prefixes environment overrides, e.g. CHARGEPOINT_CENTRALSYSTEM_URL.
const EnvPrefix = "CHARGEPOINT"

type Config struct {
	ChargePoint   ChargePointConfig              `mapstructure:"chargePoint"`
	CentralSystem CentralSystemConfig            `mapstructure:"centralSystem"`
	Session       SessionConfig                  `mapstructure:"session"`
	Logger        LoggerConfig                   `mapstructure:"logger"`
	Nats          NatsConfig                     `mapstructure:"nats"`
	Configuration []chargepoint.ConfigurationKey `mapstructure:"configuration" validate:"dive"`
}

type ChargePointConfig struct {
	ID                string        `mapstructure:"id" validate:"required"`
	Vendor            string        `mapstructure:"vendor" validate:"required,max=20"`
	Model             string        `mapstructure:"model" validate:"required,max=20"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval" validate:"gt=0"`
}

type CentralSystemConfig struct {
	URL              string        `mapstructure:"url" validate:"required,url"`
	Subprotocol      string        `mapstructure:"subprotocol" validate:"required"`
	HandshakeTimeout time.Duration `mapstructure:"handshakeTimeout" validate:"gte=0"`
}

type SessionConfig struct {
	CallTimeout time.Duration `mapstructure:"callTimeout" validate:"gt=0"`
	// ValidateMessages checks payloads against the OCPP 1.6 JSON schemas.
	ValidateMessages bool `mapstructure:"validateMessages"`
}

type LoggerConfig struct {
	Level         string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format        string `mapstructure:"format" validate:"oneof=text json"`
	FilePath      string `mapstructure:"filePath"`
	MaxSizeMB     int    `mapstructure:"maxSizeMB" validate:"gte=0"`
	MaxBackups    int    `mapstructure:"maxBackups" validate:"gte=0"`
	MaxAgeDays    int    `mapstructure:"maxAgeDays" validate:"gte=0"`
	Compress      bool   `mapstructure:"compress"`
	EnableConsole bool   `mapstructure:"enableConsole"`
}

type NatsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url" validate:"required_if=Enabled true"`
	RequestSubject string        `mapstructure:"requestSubject" validate:"required_if=Enabled true"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout" validate:"gte=0"`
}

// DefaultConfiguration is the key set served by GetConfiguration when the
// file does not list one.
var DefaultConfiguration = []chargepoint.ConfigurationKey{
	{Key: "AllowOfflineTxForUnknownId", Value: "false"},
	{Key: "AuthorizationCacheEnabled", Value: "true"},
	{Key: "AuthorizeRemoteTxRequests", Value: "false"},
	{Key: "ClockAlignedDataInterval", Value: "0"},
	{Key: "ConnectionTimeOut", Value: "120"},
	{Key: "GetConfigurationMaxKeys", Readonly: true, Value: "10"},
	{Key: "HeartbeatInterval", Value: "900"},
	{Key: "LocalAuthorizeOffline", Value: "true"},
	{Key: "LocalPreAuthorize", Value: "true"},
	{Key: "MeterValueSampleInterval", Value: "60"},
	{Key: "MinimumStatusDuration", Value: "1"},
	{Key: "NumberOfConnectors", Readonly: true, Value: "1"},
	{Key: "ResetRetries", Value: "1"},
	{Key: "StopTransactionOnEVSideDisconnect", Value: "true"},
	{Key: "StopTransactionOnInvalidId", Value: "true"},
	{Key: "TransactionMessageAttempts", Value: "3"},
	{Key: "TransactionMessageRetryInterval", Value: "5"},
	{Key: "UnlockConnectorOnEVSideDisconnect", Value: "false"},
	{Key: "WebSocketPingInterval", Value: "40"},
	{Key: "LocalAuthListEnabled", Value: "true"},
	{Key: "LocalAuthListMaxLength", Readonly: true, Value: "200"},
	{Key: "SendLocalListMaxLength", Readonly: true, Value: "10"},
	{Key: "ReserveConnectorZeroSupported", Readonly: true, Value: "true"},
	{Key: "ChargeProfileMaxStackLevel", Readonly: true, Value: "10"},
	{Key: "ChargingScheduleAllowedChargingRateUnit", Readonly: true, Value: "Current,Power"},
	{Key: "ChargingScheduleMaxPeriods", Readonly: true, Value: "10"},
	{Key: "ConnectorSwitch3to1PhaseSupported", Readonly: true, Value: "false"},
	{Key: "MaxChargingProfilesInstalled", Readonly: true, Value: "20"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("chargePoint.id", "")
	v.SetDefault("chargePoint.vendor", "")
	v.SetDefault("chargePoint.model", "")
	v.SetDefault("chargePoint.heartbeatInterval", 15*time.Minute)

	v.SetDefault("centralSystem.url", "")
	v.SetDefault("centralSystem.subprotocol", "ocpp1.6")
	v.SetDefault("centralSystem.handshakeTimeout", 10*time.Second)

	v.SetDefault("session.callTimeout", 30*time.Second)
	v.SetDefault("session.validateMessages", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.filePath", "")
	v.SetDefault("logger.maxSizeMB", 100)
	v.SetDefault("logger.maxBackups", 5)
	v.SetDefault("logger.maxAgeDays", 30)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.enableConsole", true)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.requestSubject", "request")
	v.SetDefault("nats.requestTimeout", 3*time.Minute)
}

// Load reads the file at configPath, when given, over the defaults and
// applies environment overrides. The result is validated.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(config.Configuration) == 0 {
		config.Configuration = append([]chargepoint.ConfigurationKey(nil), DefaultConfiguration...)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.NewNotValid(err, "config")
	}
	return nil
}
