package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config -
type Config struct {
	Proposal string         `mapstructure:"proposal"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Hub      HubConfig      `mapstructure:"hub"`
	App      AppConfig      `mapstructure:"app"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Chart    ChartConfig    `mapstructure:"chart"`

	raw rawInputs // unparsed scan inputs, kept for Validate
}

// RPCConfig - JSON-RPC node
type RPCConfig struct {
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ThrottleEvery int           `mapstructure:"throttle_every"` // pause before every Nth request
	ThrottleDelay time.Duration `mapstructure:"throttle_delay"`
	MaxRetries    int           `mapstructure:"max_retries"` // retransmissions on 429/5xx
	MaxRPS        float64       `mapstructure:"max_rps"`     // 0 = no ceiling
}

// ScanConfig - block range and token. Blocks are parsed by Load so bad input is reported with the rest.
type ScanConfig struct {
	Token      common.Address `mapstructure:"-"`
	StartBlock uint64         `mapstructure:"-"`
	EndBlock   uint64         `mapstructure:"-"`
	ChunkSize  uint64         `mapstructure:"chunk_size"`
}

// HubConfig - Snapshot GraphQL hub
type HubConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ThrottleEvery   int           `mapstructure:"throttle_every"` // pause after every Nth holder
	ThrottleDelay   time.Duration `mapstructure:"throttle_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
}

type AppConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogsDir string `mapstructure:"logs_dir"`
	Debug   bool   `mapstructure:"debug"`
	Quiet   bool   `mapstructure:"quiet"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type ChartConfig struct {
	Enabled bool `mapstructure:"enabled"`
	TopN    int  `mapstructure:"top_n"`
}

// Stage selects which inputs Validate requires.
type Stage int

const (
	StageSnapshot Stage = iota // ledger + voting power
	StageHolders               // ledger only
	StageVotes                 // voting power only, from a saved holder list
	StageRescan                // replay skipped chunks
)

// Human-readable field names, in the order they are reported.
const (
	FieldProposal   = "proposal id"
	FieldRPCURL     = "rpc url"
	FieldStartBlock = "start block"
	FieldEndBlock   = "end block"
	FieldToken      = "token address"
)

var required = map[Stage][]string{
	StageSnapshot: {FieldProposal, FieldRPCURL, FieldStartBlock, FieldEndBlock, FieldToken},
	StageHolders:  {FieldRPCURL, FieldStartBlock, FieldEndBlock, FieldToken},
	StageVotes:    {FieldProposal},
	StageRescan:   {FieldRPCURL, FieldToken},
}

// Positional argument order, matching the historic command line:
// <proposalId> <rpcUrl> <startBlock> <endBlock> <tokenAddress>
var positional = []string{"proposal", "rpc.url", "scan.start_block", "scan.end_block", "scan.token"}

// ConfigError lists every missing or invalid input at once.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required parameters: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid parameters: "+strings.Join(e.Invalid, "; "))
	}
	return strings.Join(parts, "; ")
}

// RegisterFlags adds every config key as a flag. Keys keep their dotted names so
// they bind to viper one to one.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file (default ./config.yaml)")
	fs.String("env-file", ".env", "Path to a .env file")

	fs.String("proposal", "", "Snapshot proposal id (env: PROPOSAL_ID)")

	fs.String("rpc.url", "", "JSON-RPC endpoint (env: RPC_URL)")
	fs.Duration("rpc.timeout", 30*time.Second, "Per-request timeout (env: RPC_TIMEOUT)")
	fs.Int("rpc.throttle_every", 3, "Pause before every Nth RPC request")
	fs.Duration("rpc.throttle_delay", time.Second, "RPC pause length")
	fs.Int("rpc.max_retries", 2, "Retransmissions on HTTP 429/5xx")
	fs.Float64("rpc.max_rps", 0, "Optional requests-per-second ceiling, 0 disables")

	fs.String("scan.token", "", "ERC-20 token contract (env: TOKEN_ADDRESS)")
	fs.String("scan.start_block", "", "First block of the scan (env: START_BLOCK)")
	fs.String("scan.end_block", "", "Last block of the scan (env: END_BLOCK)")
	fs.Uint64("scan.chunk_size", 500, "Blocks per eth_getLogs request")

	fs.String("hub.url", "https://hub.snapshot.org/graphql", "Snapshot GraphQL endpoint (env: SNAPSHOT_HUB_URL)")
	fs.Duration("hub.timeout", 30*time.Second, "Hub request timeout")
	fs.Duration("hub.retry_backoff", 15*time.Second, "Wait before retrying a lookup without data")
	fs.Int("hub.throttle_every", 3, "Pause after every Nth holder")
	fs.Duration("hub.throttle_delay", 5*time.Second, "Hub pause length")
	fs.Int("hub.max_retries", 2, "Retransmissions on HTTP 429/5xx")
	fs.Int("hub.breaker_failures", 0, "Consecutive hub failures before the circuit opens, 0 disables")

	fs.String("app.data_dir", "data_out", "Artifact directory (env: DATA_DIR)")
	fs.String("app.logs_dir", "logs", "Log directory (env: LOGS_DIR)")
	fs.Bool("app.debug", false, "Write DEBUG entries to the log file")
	fs.Bool("app.quiet", false, "Only warnings and errors on the console")

	fs.String("metrics.listen_addr", "", "Serve Prometheus metrics on this address, e.g. :9100 (env: METRICS_ADDR)")

	fs.String("telegram.bot_token", "", "Telegram bot token for the run summary (env: TELEGRAM_BOT_TOKEN)")
	fs.Int64("telegram.chat_id", 0, "Telegram chat id for the run summary (env: TELEGRAM_CHAT_ID)")

	fs.Bool("chart.enabled", true, "Render the top holders voting power chart")
	fs.Int("chart.top_n", 20, "Holders shown on the chart")
}

// setDefaults by default
func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.timeout", 30*time.Second)
	v.SetDefault("rpc.throttle_every", 3)
	v.SetDefault("rpc.throttle_delay", time.Second)
	v.SetDefault("rpc.max_retries", 2)
	v.SetDefault("rpc.max_rps", 0)

	v.SetDefault("scan.chunk_size", 500)

	v.SetDefault("hub.url", "https://hub.snapshot.org/graphql")
	v.SetDefault("hub.timeout", 30*time.Second)
	v.SetDefault("hub.retry_backoff", 15*time.Second)
	v.SetDefault("hub.throttle_every", 3)
	v.SetDefault("hub.throttle_delay", 5*time.Second)
	v.SetDefault("hub.max_retries", 2)
	v.SetDefault("hub.breaker_failures", 0)

	v.SetDefault("app.data_dir", "data_out")
	v.SetDefault("app.logs_dir", "logs")
	v.SetDefault("app.debug", false)

	v.SetDefault("chart.enabled", true)
	v.SetDefault("chart.top_n", 20)
}

func setupEnvAliases(v *viper.Viper) {
	v.BindEnv("proposal", "PROPOSAL_ID")
	v.BindEnv("rpc.url", "RPC_URL")
	v.BindEnv("rpc.timeout", "RPC_TIMEOUT")
	v.BindEnv("scan.token", "TOKEN_ADDRESS")
	v.BindEnv("scan.start_block", "START_BLOCK")
	v.BindEnv("scan.end_block", "END_BLOCK")
	v.BindEnv("hub.url", "SNAPSHOT_HUB_URL")
	v.BindEnv("app.data_dir", "DATA_DIR")
	v.BindEnv("app.logs_dir", "LOGS_DIR")
	v.BindEnv("metrics.listen_addr", "METRICS_ADDR")
	v.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("telegram.chat_id", "TELEGRAM_CHAT_ID")
}

// Load merges, lowest to highest: defaults, config.yaml, .env and environment,
// flags, positional args. It does not validate; call Validate for the stage at hand.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	envFile := ".env"
	configFile := ""
	if fs != nil {
		if f := fs.Lookup("env-file"); f != nil {
			envFile = f.Value.String()
		}
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}

	// Missing .env is fine
	_ = godotenv.Load(envFile)

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.ReadInConfig() // optional
	}

	v.SetEnvPrefix("SNAPSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setupEnvAliases(v)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if len(args) > len(positional) {
		return nil, &ConfigError{Invalid: []string{fmt.Sprintf("expected at most %d arguments, got %d", len(positional), len(args))}}
	}
	for i, arg := range args {
		v.Set(positional[i], arg)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	raw := rawInputs{
		token: strings.TrimSpace(v.GetString("scan.token")),
		start: strings.TrimSpace(v.GetString("scan.start_block")),
		end:   strings.TrimSpace(v.GetString("scan.end_block")),
	}
	cfg.Proposal = strings.TrimSpace(cfg.Proposal)
	cfg.RPC.URL = strings.TrimSpace(cfg.RPC.URL)
	cfg.raw = raw
	cfg.parseScan()

	return &cfg, nil
}

type rawInputs struct {
	token, start, end string
	invalid           map[string]string
}

func (c *Config) parseScan() {
	c.raw.invalid = map[string]string{}
	if c.raw.token != "" {
		if common.IsHexAddress(c.raw.token) {
			c.Scan.Token = common.HexToAddress(c.raw.token)
		} else {
			c.raw.invalid[FieldToken] = fmt.Sprintf("%s %q is not a 20-byte hex address", FieldToken, c.raw.token)
		}
	}
	if c.raw.start != "" {
		n, err := strconv.ParseUint(c.raw.start, 10, 64)
		switch {
		case err != nil:
			c.raw.invalid[FieldStartBlock] = fmt.Sprintf("%s %q is not a block number", FieldStartBlock, c.raw.start)
		case n == 0:
			c.raw.invalid[FieldStartBlock] = fmt.Sprintf("%s must be positive", FieldStartBlock)
		default:
			c.Scan.StartBlock = n
		}
	}
	if c.raw.end != "" {
		n, err := strconv.ParseUint(c.raw.end, 10, 64)
		if err != nil {
			c.raw.invalid[FieldEndBlock] = fmt.Sprintf("%s %q is not a block number", FieldEndBlock, c.raw.end)
		} else {
			c.Scan.EndBlock = n
		}
	}
}

func (c *Config) present(field string) bool {
	switch field {
	case FieldProposal:
		return c.Proposal != ""
	case FieldRPCURL:
		return c.RPC.URL != ""
	case FieldStartBlock:
		return c.raw.start != ""
	case FieldEndBlock:
		return c.raw.end != ""
	case FieldToken:
		return c.raw.token != ""
	}
	return false
}

// Validate checks the inputs the stage needs and returns *ConfigError listing every problem.
func (c *Config) Validate(stage Stage) error {
	cerr := &ConfigError{}
	fields := required[stage]
	for _, field := range fields {
		if !c.present(field) {
			cerr.Missing = append(cerr.Missing, field)
			continue
		}
		if msg, ok := c.raw.invalid[field]; ok {
			cerr.Invalid = append(cerr.Invalid, msg)
		}
	}

	needsRange := false
	for _, field := range fields {
		if field == FieldEndBlock {
			needsRange = true
		}
	}
	if needsRange && c.Scan.StartBlock > 0 && c.present(FieldEndBlock) && c.raw.invalid[FieldEndBlock] == "" &&
		c.Scan.EndBlock < c.Scan.StartBlock {
		cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s %d is before %s %d", FieldEndBlock, c.Scan.EndBlock, FieldStartBlock, c.Scan.StartBlock))
	}

	if c.RPC.URL != "" && !strings.HasPrefix(c.RPC.URL, "http://") && !strings.HasPrefix(c.RPC.URL, "https://") {
		for _, field := range fields {
			if field == FieldRPCURL {
				cerr.Invalid = append(cerr.Invalid, fmt.Sprintf("%s %q must be http(s)", FieldRPCURL, c.RPC.URL))
			}
		}
	}

	if c.Scan.ChunkSize == 0 {
		cerr.Invalid = append(cerr.Invalid, "scan.chunk_size must be positive")
	}

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

// TelegramEnabled reports whether the run summary should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != 0
}
