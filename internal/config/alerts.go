package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AlertConfig holds the thresholds used to raise revenue alerts.
type AlertConfig struct {
	RefundRateHigh        float64 `mapstructure:"refundRateHigh"`
	FailedPaymentsHigh    float64 `mapstructure:"failedPaymentsHigh"`
	NetNewNegativePeriods int     `mapstructure:"netNewNegativePeriods"`
	NRRFloor              float64 `mapstructure:"nrrFloor"`
}

func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		RefundRateHigh:        0.12,
		FailedPaymentsHigh:    0.08,
		NetNewNegativePeriods: 3,
		NRRFloor:              1.0,
	}
}

type AlertConfigHolder struct {
	current atomic.Value // holds AlertConfig
}

// NewAlertConfigHolder reads alerts.yml and keeps it hot-reloaded. Missing
// files fall back to DefaultAlertConfig.
func NewAlertConfigHolder(cfg Config, log *zap.Logger) (*AlertConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.alerts")

	v := viper.New()
	if cfg.AlertConfigPath != "" {
		v.SetConfigFile(cfg.AlertConfigPath)
	} else {
		v.SetConfigName("alerts")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/revlens")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("REVLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setAlertDefaults(v)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	current, err := readAlertConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &AlertConfigHolder{}
	holder.current.Store(current)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readAlertConfig(v)
		if err != nil {
			log.Warn("invalid alert config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("alert config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticAlertConfigHolder returns a holder that never reloads.
func NewStaticAlertConfigHolder(cfg AlertConfig) *AlertConfigHolder {
	holder := &AlertConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *AlertConfigHolder) Get() AlertConfig {
	if h == nil {
		return DefaultAlertConfig()
	}
	return h.current.Load().(AlertConfig)
}

func setAlertDefaults(v *viper.Viper) {
	defaults := DefaultAlertConfig()
	v.SetDefault("alerts.refundRateHigh", defaults.RefundRateHigh)
	v.SetDefault("alerts.failedPaymentsHigh", defaults.FailedPaymentsHigh)
	v.SetDefault("alerts.netNewNegativePeriods", defaults.NetNewNegativePeriods)
	v.SetDefault("alerts.nrrFloor", defaults.NRRFloor)
}

// readAlertConfig reads each threshold by key so defaults fill whatever a
// partial alerts.yml leaves out.
func readAlertConfig(v *viper.Viper) (AlertConfig, error) {
	cfg := AlertConfig{
		RefundRateHigh:        v.GetFloat64("alerts.refundRateHigh"),
		FailedPaymentsHigh:    v.GetFloat64("alerts.failedPaymentsHigh"),
		NetNewNegativePeriods: v.GetInt("alerts.netNewNegativePeriods"),
		NRRFloor:              v.GetFloat64("alerts.nrrFloor"),
	}
	if err := validateAlertConfig(cfg); err != nil {
		return AlertConfig{}, err
	}
	return cfg, nil
}

func validateAlertConfig(cfg AlertConfig) error {
	if cfg.RefundRateHigh <= 0 || cfg.RefundRateHigh > 1 {
		return errors.New("alerts.refundRateHigh must be in (0, 1]")
	}
	if cfg.FailedPaymentsHigh <= 0 || cfg.FailedPaymentsHigh > 1 {
		return errors.New("alerts.failedPaymentsHigh must be in (0, 1]")
	}
	if cfg.NetNewNegativePeriods < 1 {
		return errors.New("alerts.netNewNegativePeriods must be at least 1")
	}
	if cfg.NRRFloor <= 0 {
		return errors.New("alerts.nrrFloor must be positive")
	}
	return nil
}
