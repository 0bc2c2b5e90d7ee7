package simplysats

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultLogFilename   = "simplysats.log"
	defaultDBFilename    = "simplysats.db"
	defaultMaxLogFiles   = 3
	defaultMaxLogFileMB  = 10
	defaultDebugLevel    = "info"
	defaultExplorerURL   = "https://api.whatsonchain.com/v1/bsv/main"
	defaultMinerAPIURL   = "https://mapi.taal.com"
	defaultMaxConcurrent = 3
	defaultSyncDelayMs   = 500
	defaultHistoryLimit  = 30
	defaultAutoLockMin   = 10
)

// Config defines the configuration options for the wallet engine.
//
// See LoadConfig for further details regarding the configuration loading
// and parsing process.
type Config struct {
	AppDataDir string `long:"appdata" description:"The directory to store wallet data within"`

	DBPath string `long:"db" description:"Path to the wallet database file"`

	LogDir string `long:"logdir" description:"Directory to log output"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	ExplorerURL string `long:"explorerurl" description:"Base URL of the block explorer API"`

	MinerAPIURL string `long:"minerapiurl" description:"Base URL of the miner merchant API used for fee quotes"`

	FeeRate float64 `long:"feerate" description:"Fee rate override in satoshis per byte; 0 uses the miner quote"`

	MaxConcurrentRequests int `long:"maxconcurrentrequests" description:"Maximum number of in-flight explorer requests during sync"`

	AddressSyncDelay time.Duration `long:"addresssyncdelay" description:"Delay between address sync batches"`

	HistoryLimit int `long:"historylimit" description:"Maximum number of history entries fetched per address"`

	AutoLockMinutes int `long:"autolockminutes" description:"Minutes of inactivity before in-memory keys are cleared; 0 disables"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	appData := defaultAppDataDir()
	return Config{
		AppDataDir:            appData,
		DBPath:                filepath.Join(appData, defaultDBFilename),
		LogDir:                filepath.Join(appData, "logs"),
		DebugLevel:            defaultDebugLevel,
		ExplorerURL:           defaultExplorerURL,
		MinerAPIURL:           defaultMinerAPIURL,
		MaxConcurrentRequests: defaultMaxConcurrent,
		AddressSyncDelay:      defaultSyncDelayMs * time.Millisecond,
		HistoryLimit:          defaultHistoryLimit,
		AutoLockMinutes:       defaultAutoLockMin,
	}
}

// LoadConfig initializes and parses the config using command line options,
// then validates the result.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the sanity of the configuration values.
func (c *Config) Validate() error {
	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("maxconcurrentrequests must be positive, "+
			"got %d", c.MaxConcurrentRequests)
	}
	if c.AddressSyncDelay < 0 {
		return fmt.Errorf("addresssyncdelay must not be negative")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("historylimit must be positive, got %d",
			c.HistoryLimit)
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("feerate must not be negative")
	}
	if c.AutoLockMinutes < 0 {
		return fmt.Errorf("autolockminutes must not be negative")
	}
	return nil
}

// LogFile returns the path of the rotated log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".simplysats")
}
