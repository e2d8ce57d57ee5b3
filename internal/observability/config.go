package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/revlens/internal/config"
)

const defaultServiceName = "revlens"

// Config holds logging, tracing and metrics settings. Values default to the
// application config and can be overridden by the standard OTEL_* variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	SQLLogLevel      string
	SQLSlowThreshold int
}

func LoadConfig(cfg config.Config) Config {
	env := environ(os.Getenv)

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, defaultServiceName),
		Environment:          env.str("DEPLOYMENT_ENV", cfg.Environment),
		Version:              env.str("SERVICE_VERSION", cfg.AppVersion),
		LogLevel:             strings.ToLower(env.str("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(env.str("LOG_FORMAT", "json")),
		OtelEnabled:          env.boolean("OTEL_ENABLED", cfg.IsProduction()),
		OtelExporterEndpoint: env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: exporterProtocol(env),
		OtelSamplingRatio:    env.float("OTEL_SAMPLING_RATIO", 0.1),
		SQLLogLevel:          strings.ToLower(env.str("SQL_LOG_LEVEL", "warn")),
		SQLSlowThreshold:     env.integer("SQL_SLOW_THRESHOLD_MS", 200),
	}
	if out.OtelSamplingRatio < 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = 0.1
	}
	return out
}

// Debug turns on verbose request logging and stack traces.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

// exporterProtocol prefers the traces-specific override and falls back to
// grpc for anything unrecognized.
func exporterProtocol(env environ) string {
	protocol := strings.ToLower(env.str("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", env.str("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))
	switch protocol {
	case "grpc", "grpc/protobuf", "http", "http/protobuf":
		return protocol
	default:
		return "grpc"
	}
}

type environ func(string) string

func (e environ) str(key, def string) string {
	return firstNonEmpty(e(key), def)
}

func (e environ) boolean(key string, def bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(e(key)))
	if err != nil {
		return def
	}
	return parsed
}

func (e environ) integer(key string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(e(key)))
	if err != nil {
		return def
	}
	return parsed
}

func (e environ) float(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(e(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
