// Package config loads gridcore's typed configuration tree from YAML,
// matching §6's "configuration passed in as a typed struct" note: the
// core itself mandates no process-level flags, so this is purely the
// shape cmd/gridcore loads before constructing an Engine.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/gridcore/pkg/gridcore"
	"github.com/cuemby/gridcore/pkg/log"
)

// ToEngineOptions converts the loaded config into gridcore.Options, the
// shape Engine's constructor actually takes.
func (c Config) ToEngineOptions() gridcore.Options {
	return gridcore.Options{
		StorageDir:      c.Storage.Dir,
		PageSize:        c.Storage.PageSize,
		WALDir:          c.WAL.Dir,
		WALSegmentSize:  c.WAL.SegmentSize,
		CacheCapacity:   c.PageMemory.Capacity,
		PartitionCount:  c.Partition.Count,
		BackupCount:     c.Partition.BackupCount,
		HistoryCapacity: c.Partition.EvictionHistory,
		MaxRemaps:       c.Txn.MaxRemaps,
		VacuumWorkers:   c.Vacuum.Workers,
		VacuumBatchSize: c.Vacuum.BatchSize,
		NodeID:          c.Topology.NodeID,
		TopologyBind:    c.Topology.BindAddr,
		TopologyDir:     c.Topology.DataDir,
	}
}

// Config is the full configuration tree for one gridcore node.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	WAL        WALConfig        `yaml:"wal"`
	PageMemory PageMemoryConfig `yaml:"pageMemory"`
	Partition  PartitionConfig  `yaml:"partition"`
	Topology   TopologyConfig   `yaml:"topology"`
	Txn        TxnConfig        `yaml:"txn"`
	Vacuum     VacuumConfig     `yaml:"vacuum"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// StorageConfig configures the page store (§4.B).
type StorageConfig struct {
	Dir         string `yaml:"dir"`
	PageSize    int    `yaml:"pageSize"`
	DirectIO    bool   `yaml:"directIO"`
	AlignBlock  int    `yaml:"alignBlock"`
}

// WALConfig configures the WAL manager (§4.C).
type WALConfig struct {
	Dir         string `yaml:"dir"`
	SegmentSize int64  `yaml:"segmentSize"`
}

// PageMemoryConfig configures the resident page cache (§4.D).
type PageMemoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// PartitionConfig configures the partition map (§4.G).
type PartitionConfig struct {
	Count             int `yaml:"count"`
	BackupCount       int `yaml:"backupCount"`
	EvictionHistory   int `yaml:"evictionHistory"`
}

// TopologyConfig configures the raft-backed membership tracker.
type TopologyConfig struct {
	NodeID   string `yaml:"nodeId"`
	BindAddr string `yaml:"bindAddr"`
	DataDir  string `yaml:"dataDir"`
}

// TxnConfig configures the transaction coordinator (§4.H).
type TxnConfig struct {
	MaxRemaps int `yaml:"maxRemaps"`
}

// VacuumConfig configures the vacuum worker pool (§4.I).
type VacuumConfig struct {
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batchSize"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"jsonOutput"`
}

// Default returns a Config with the defaults a single-node embedding
// would use, overridable field-by-field after loading.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Dir:      "data/pages",
			PageSize: 4096,
		},
		WAL: WALConfig{
			Dir:         "data/wal",
			SegmentSize: 64 << 20,
		},
		PageMemory: PageMemoryConfig{
			Capacity: 4096,
		},
		Partition: PartitionConfig{
			Count:           1024,
			BackupCount:     1,
			EvictionHistory: 256,
		},
		Topology: TopologyConfig{
			NodeID:   "node-1",
			BindAddr: "127.0.0.1:7946",
			DataDir:  "data/topology",
		},
		Txn: TxnConfig{
			MaxRemaps: 3,
		},
		Vacuum: VacuumConfig{
			Workers:   4,
			BatchSize: 256,
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads and parses a YAML config file, starting from Default() so
// any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &gridcore.ConfigurationError{Field: "path", Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &gridcore.ConfigurationError{Field: "yaml", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields Engine actually depends on being sane.
func (c Config) Validate() error {
	if c.Storage.PageSize <= 0 {
		return &gridcore.ConfigurationError{Field: "storage.pageSize", Reason: "must be positive"}
	}
	if c.PageMemory.Capacity <= 0 {
		return &gridcore.ConfigurationError{Field: "pageMemory.capacity", Reason: "must be positive"}
	}
	if c.Partition.Count <= 0 {
		return &gridcore.ConfigurationError{Field: "partition.count", Reason: "must be positive"}
	}
	return nil
}

// LogLevel converts the configured level to pkg/log's Level type.
func (c Config) LogLevel() log.Level {
	switch c.Log.Level {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
