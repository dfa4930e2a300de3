package config

// Config is the top-level configuration for airmon.
type Config struct {
	Stream    Stream     `yaml:"stream"`
	Probe     Probe      `yaml:"probe"`
	Detection Detection  `yaml:"detection"`
	Alerts    Alerts     `yaml:"alerts"`
	Recording Recording  `yaml:"recording"`
	AutoDJ    AutoDJ     `yaml:"autodj"`
	Store     Store      `yaml:"store"`
	Logging   Logging    `yaml:"logging"`
	Shows     []ShowSpec `yaml:"shows"`
}

// Stream identifies the live stream being monitored.
type Stream struct {
	URL string `yaml:"url"` // e.g. https://radio.example.edu:8880/stream
}

// Probe controls the periodic stream-health probe.
type Probe struct {
	DurationSec     int    `yaml:"duration_sec"`     // length of each audio sample
	IntervalMinutes int    `yaml:"interval_minutes"` // time between probes
	TestSample      string `yaml:"test_sample"`      // optional: classify this file instead of capturing
}

// Detection holds the audio classification thresholds.
type Detection struct {
	DeadAirDB                float64 `yaml:"dead_air_db"`                // chunk at or below this dBFS counts as silence
	AutomationMinDB          float64 `yaml:"automation_min_db"`          // lower bound of the automation loudness band
	AutomationMaxDB          float64 `yaml:"automation_max_db"`          // upper bound of the automation loudness band
	AutomationRatioThreshold float64 `yaml:"automation_ratio_threshold"` // fraction of in-band chunks that implies automation
	ChunkMs                  int     `yaml:"chunk_ms"`                   // per-chunk window for level analysis
}

// Alerts controls fault alerting and dead-air auto-recovery.
type Alerts struct {
	Enabled                    bool     `yaml:"enabled"`
	DryRun                     bool     `yaml:"dry_run"` // log alerts instead of sending them
	URLs                       []string `yaml:"urls"`    // shoutrrr service URLs (discord://, smtp://, generic://, ...)
	DeadAirThresholdMinutes    float64  `yaml:"dead_air_threshold_minutes"`
	StreamDownThresholdMinutes float64  `yaml:"stream_down_threshold_minutes"`
	RepeatMinutes              float64  `yaml:"repeat_minutes"` // minimum time between two alerts of the same kind
	AutoRecover                bool     `yaml:"auto_recover"`   // re-enable automated playback on sustained dead air
	AutoRecoverMinutes         float64  `yaml:"auto_recover_minutes"`
}

// Recording controls show captures and the global pause flag.
type Recording struct {
	OutputDir      string `yaml:"output_dir"`
	PerShowFolders bool   `yaml:"per_show_folders"` // create one subfolder per show
	SelfHeal       bool   `yaml:"self_heal"`        // retry a failed capture once
	RetryDelaySec  int    `yaml:"retry_delay_sec"`
	Paused         bool   `yaml:"paused"`
	ResumeAt       string `yaml:"resume_at"` // optional RFC 3339 timestamp; clears the pause when reached
}

// AutoDJ points at the automation system's REST API. Leaving base_url
// empty disables automation control, including dead-air auto-recovery.
type AutoDJ struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Store configuration for probe/run/health persistence.
type Store struct {
	Driver string `yaml:"driver"` // "bbolt" or "json"
	Path   string `yaml:"path"`
}

// Logging controls the structured logger.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// ShowSpec is a recurring show definition as written in YAML. It seeds the
// schedule store at startup. Times of day are "15:04", dates "2006-01-02",
// days are three-letter weekday abbreviations.
type ShowSpec struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	HostFirst string   `yaml:"host_first"`
	HostLast  string   `yaml:"host_last"`
	Days      []string `yaml:"days"`
	StartDate string   `yaml:"start_date"`
	EndDate   string   `yaml:"end_date"`
	StartTime string   `yaml:"start_time"`
	EndTime   string   `yaml:"end_time"`
}
