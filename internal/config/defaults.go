package config

const (
	defaultInputDir             = "pdf"
	defaultOutputDir            = "ocr"
	defaultManifestName         = "cache.json"
	defaultLogDir               = "~/.local/share/ocrbatch/logs"
	defaultStateDir             = "~/.local/share/ocrbatch"
	defaultMinerUBaseURL        = "https://mineru.net/api/v4"
	defaultMinerUModelVersion   = "vlm"
	defaultMinerURequestTimeout = 60
	defaultInputExtension       = ".pdf"
	defaultPollInterval         = 5
	defaultPollTimeout          = 1800
	defaultConcurrency          = 4
	defaultMaxAttempts          = 3
	defaultMinFreeGiB           = 1
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultMinerUEnableFormula  = true
	defaultMinerUEnableTable    = true
	tokenEnvVar                 = "MINERU_API_TOKEN"
	baseURLEnvVar               = "MINERU_BASE_URL"
)

// Default returns a Config populated with repository defaults. The manifest
// path is left empty and derived from the input directory during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  defaultInputDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			StateDir:  defaultStateDir,
		},
		MinerU: MinerU{
			BaseURL:        defaultMinerUBaseURL,
			ModelVersion:   defaultMinerUModelVersion,
			EnableFormula:  defaultMinerUEnableFormula,
			EnableTable:    defaultMinerUEnableTable,
			RequestTimeout: defaultMinerURequestTimeout,
		},
		Workflow: Workflow{
			InputExtension: defaultInputExtension,
			PollInterval:   defaultPollInterval,
			PollTimeout:    defaultPollTimeout,
			Concurrency:    defaultConcurrency,
			MaxAttempts:    defaultMaxAttempts,
			MinFreeGiB:     defaultMinFreeGiB,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
