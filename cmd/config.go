package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/khanhnv2901/seca-recon/internal/domain/recon"
	"github.com/khanhnv2901/seca-recon/internal/domain/scan"
	consts "github.com/khanhnv2901/seca-recon/internal/shared/constants"
)

const (
	defaultServeAddr       = "127.0.0.1:8080"
	defaultServeRateLimit  = 10
	defaultServeRateBurst  = 20
	defaultShutdownTimeout = 30 * time.Second
)

// CLIConfig captures runtime configuration shared across commands.
type CLIConfig struct {
	ResultsDir  string
	Scan        ScanDefaults
	Relays      []string
	DoHEndpoint string
	APIKeys     map[string]string
	Server      ServerConfig
}

// ScanDefaults are the tuning values a new scan starts with unless flags override them.
type ScanDefaults struct {
	Modules      []string
	Threads      int
	TimeoutSecs  int
	Retries      int
	RetryDelayMS int
	PayloadLimit int
	PacingMS     int
	Ports        []int
}

// ServerConfig holds the settings of the serve command.
type ServerConfig struct {
	Addr            string
	AuthToken       string
	RateLimit       int
	RateBurst       int
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type defaultOverrides struct {
	Threads      *int
	TimeoutSecs  *int
	Retries      *int
	RetryDelayMS *int
	PayloadLimit *int
	PacingMS     *int
	Modules      []string
	Ports        []int
	Addr         string
	AuthToken    string
	RateLimit    *int
}

var cliConfig = newCLIConfig()

func newCLIConfig() *CLIConfig {
	return &CLIConfig{
		Scan: ScanDefaults{
			Threads:      consts.DefaultThreads,
			TimeoutSecs:  int(consts.DefaultTimeout / time.Second),
			Retries:      consts.DefaultRetries,
			RetryDelayMS: int(consts.DefaultRetryDelay / time.Millisecond),
			PayloadLimit: consts.DefaultPayloadLimit,
			PacingMS:     int(consts.DefaultPacing / time.Millisecond),
		},
		DoHEndpoint: consts.DefaultDoHEndpoint,
		APIKeys:     map[string]string{},
		Server: ServerConfig{
			Addr:            defaultServeAddr,
			RateLimit:       defaultServeRateLimit,
			RateBurst:       defaultServeRateBurst,
			ShutdownTimeout: defaultShutdownTimeout,
		},
	}
}

func viperInt(key string) *int {
	if !viper.IsSet(key) {
		return nil
	}
	val := viper.GetInt(key)
	return &val
}

func loadDefaultOverrides() defaultOverrides {
	overrides := defaultOverrides{
		Threads:      viperInt("defaults.threads"),
		TimeoutSecs:  viperInt("defaults.timeout_secs"),
		Retries:      viperInt("defaults.retries"),
		RetryDelayMS: viperInt("defaults.retry_delay_ms"),
		PayloadLimit: viperInt("defaults.payload_limit"),
		PacingMS:     viperInt("defaults.pacing_ms"),
		RateLimit:    viperInt("server.rate_limit"),
	}

	if viper.IsSet("defaults.modules") {
		overrides.Modules = viper.GetStringSlice("defaults.modules")
	}
	if viper.IsSet("defaults.ports") {
		overrides.Ports = viper.GetIntSlice("defaults.ports")
	}
	if viper.IsSet("server.addr") {
		overrides.Addr = viper.GetString("server.addr")
	}
	if viper.IsSet("server.auth_token") {
		overrides.AuthToken = viper.GetString("server.auth_token")
	}
	return overrides
}

// applyConfigDefaults merges config file and environment defaults into the runtime config
// when the user did not explicitly override the corresponding flag.
func applyConfigDefaults(cmd *cobra.Command) {
	if dir := viper.GetString("results_dir"); dir != "" {
		cliConfig.ResultsDir = dir
	}
	if relays := viper.GetStringSlice("relays"); len(relays) > 0 && !flagChanged(cmd.Flags(), "relay") {
		cliConfig.Relays = relays
	}
	if endpoint := viper.GetString("doh_endpoint"); endpoint != "" {
		cliConfig.DoHEndpoint = endpoint
	}
	for name, key := range viper.GetStringMapString("api_keys") {
		cliConfig.APIKeys[name] = key
	}

	overrides := loadDefaultOverrides()
	flags := cmd.Flags()

	setInt := func(name string, value *int, target *int) {
		if value != nil {
			applyIntDefault(flags, name, *value, func(v int) { *target = v })
		}
	}
	setInt("threads", overrides.Threads, &cliConfig.Scan.Threads)
	setInt("timeout", overrides.TimeoutSecs, &cliConfig.Scan.TimeoutSecs)
	setInt("retries", overrides.Retries, &cliConfig.Scan.Retries)
	setInt("retry-delay", overrides.RetryDelayMS, &cliConfig.Scan.RetryDelayMS)
	setInt("payload-limit", overrides.PayloadLimit, &cliConfig.Scan.PayloadLimit)
	setInt("pacing", overrides.PacingMS, &cliConfig.Scan.PacingMS)
	setInt("rate-limit", overrides.RateLimit, &cliConfig.Server.RateLimit)

	if len(overrides.Modules) > 0 && !flagChanged(flags, "modules") {
		cliConfig.Scan.Modules = overrides.Modules
	}
	if len(overrides.Ports) > 0 && !flagChanged(flags, "ports") {
		cliConfig.Scan.Ports = overrides.Ports
	}
	if overrides.Addr != "" {
		setStringFlagIfUnset(flags, "addr", overrides.Addr)
	}
	if overrides.AuthToken != "" {
		setStringFlagIfUnset(flags, "auth-token", overrides.AuthToken)
	}
}

// scanConfig snapshots the runtime defaults into the configuration of a new scan.
func (c *CLIConfig) scanConfig(target string) (scan.Config, error) {
	mods, err := recon.ParseModules(c.Scan.Modules)
	if err != nil {
		return scan.Config{}, err
	}
	apiKeys := make(map[string]string, len(c.APIKeys))
	for name, key := range c.APIKeys {
		apiKeys[name] = key
	}
	return scan.Config{
		Target:       target,
		Modules:      mods,
		Threads:      c.Scan.Threads,
		Timeout:      time.Duration(c.Scan.TimeoutSecs) * time.Second,
		Retries:      c.Scan.Retries,
		RetryDelay:   time.Duration(c.Scan.RetryDelayMS) * time.Millisecond,
		PayloadLimit: c.Scan.PayloadLimit,
		Pacing:       time.Duration(c.Scan.PacingMS) * time.Millisecond,
		Relays:       append([]string(nil), c.Relays...),
		DoHEndpoint:  c.DoHEndpoint,
		Ports:        append([]int(nil), c.Scan.Ports...),
		APIKeys:      apiKeys,
	}, nil
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	flag := flags.Lookup(name)
	return flag != nil && flag.Changed
}

func applyIntDefault(flags *pflag.FlagSet, name string, value int, setter func(int)) {
	if flags == nil || setter == nil {
		return
	}
	if flagChanged(flags, name) {
		return
	}
	setter(value)
}

func setStringFlagIfUnset(flags *pflag.FlagSet, name, value string) {
	if flags == nil {
		return
	}
	flag := flags.Lookup(name)
	if flag == nil || flag.Changed {
		return
	}
	_ = flag.Value.Set(value)
}
