// Package config defines bucketnode's YAML configuration, loaded the
// way the teacher loads its config (pkg/config/config.go + cmd/init.go):
// goccy/go-yaml into a plain struct, falling back to Default() when no
// file is present.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration for a bucketnode process.
type Config struct {
	Logger LoggerConfig `yaml:"logger"`
	HTTP   HTTPConfig   `yaml:"http"`
	Bucket BucketConfig `yaml:"bucket"`
	Leader LeaderConfig `yaml:"leader_election"`
	Raft   RaftConfig   `yaml:"raft"`
}

// LoggerConfig controls the slog handler.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HTTPConfig controls the read-only admin/ops surface.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// BucketConfig controls the bucket list engine.
type BucketConfig struct {
	Dir         string `yaml:"dir"`
	Protocol    uint32 `yaml:"protocol"`
	WorkerCount int    `yaml:"worker_count"`
}

// LeaderConfig controls ZooKeeper-based single-leader election.
type LeaderConfig struct {
	ZKServers []string `yaml:"zk_servers"`
	RootPath  string   `yaml:"root_path"`
	NodeID    string   `yaml:"node_id"`
}

// RaftPeer is one member of the consensus group.
type RaftPeer struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

// RaftConfig mirrors the fields the consensus adapter actually passes to
// go.etcd.io/etcd/raft/v3's raft.Config. The teacher's own raftadapter
// referenced a config.RaftConfig that was never defined anywhere in its
// tree (confirmed by inspection — a pre-existing gap in that repo); this
// type is defined fresh, named after the fields raftadapter/config.go's
// toRaftConfig actually reads.
type RaftConfig struct {
	ID                        uint64     `yaml:"id"`
	ElectionTick              int        `yaml:"election_tick"`
	HeartbeatTick             int        `yaml:"heartbeat_tick"`
	MaxSizePerMsg             uint64     `yaml:"max_size_per_msg"`
	MaxCommittedSizePerReady  uint64     `yaml:"max_committed_size_per_ready"`
	MaxUncommittedEntriesSize uint64     `yaml:"max_uncommitted_entries_size"`
	MaxInflightMsgs           int        `yaml:"max_inflight_msgs"`
	CheckQuorum               bool       `yaml:"check_quorum"`
	PreVote                   bool       `yaml:"pre_vote"`
	Peers                     []RaftPeer `yaml:"peers"`
}

// Default returns a baseline single-node development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		HTTP:   HTTPConfig{ListenAddr: ":8080"},
		Bucket: BucketConfig{
			Dir:         "./data/buckets",
			Protocol:    13,
			WorkerCount: 4,
		},
		Leader: LeaderConfig{
			RootPath: "/bucketnode",
		},
		Raft: RaftConfig{
			ID:                        1,
			ElectionTick:              10,
			HeartbeatTick:             1,
			MaxSizePerMsg:             1024 * 1024,
			MaxCommittedSizePerReady:  1024 * 1024,
			MaxUncommittedEntriesSize: 1 << 30,
			MaxInflightMsgs:           256,
			CheckQuorum:               true,
			PreVote:                   true,
		},
	}
}

// Load reads path as YAML, falling back to Default() if it doesn't exist.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
