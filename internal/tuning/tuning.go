package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ServerURL       string `yaml:"server_url"`
	WorldID         string `yaml:"world_id"`
	ProtocolVersion string `yaml:"protocol_version"`

	PacketCapacity  int `yaml:"packet_capacity"`
	PollIntervalMs  int `yaml:"poll_interval_ms"`
	MaxStableStalls int `yaml:"max_stable_stalls"`
	OutQueue        int `yaml:"out_queue"`

	DataDir string `yaml:"data_dir"`
	Journal bool   `yaml:"journal"`
	Index   bool   `yaml:"index"`
}

func Defaults() Tuning {
	return Tuning{
		ServerURL:       "ws://localhost:8080/v1/ws",
		WorldID:         "default",
		ProtocolVersion: "1.0",
		PacketCapacity:  200,
		PollIntervalMs:  1000,
		MaxStableStalls: 5,
		OutQueue:        256,
		DataDir:         "./data",
		Journal:         true,
		Index:           false,
	}
}

func (t Tuning) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// Load reads a YAML file. Keys left out (or zero) fall back to Defaults.
// Journal and Index are taken as written once the file exists.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Defaults(), fmt.Errorf("tuning.yaml: %w", err)
	}
	t.fillDefaults()
	if err := t.Validate(); err != nil {
		return Defaults(), err
	}
	return t, nil
}

func (t *Tuning) fillDefaults() {
	d := Defaults()
	if t.ServerURL == "" {
		t.ServerURL = d.ServerURL
	}
	if t.WorldID == "" {
		t.WorldID = d.WorldID
	}
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.PacketCapacity == 0 {
		t.PacketCapacity = d.PacketCapacity
	}
	if t.PollIntervalMs == 0 {
		t.PollIntervalMs = d.PollIntervalMs
	}
	if t.MaxStableStalls == 0 {
		t.MaxStableStalls = d.MaxStableStalls
	}
	if t.OutQueue == 0 {
		t.OutQueue = d.OutQueue
	}
	if t.DataDir == "" {
		t.DataDir = d.DataDir
	}
}

func (t Tuning) Validate() error {
	if t.PacketCapacity < 1 {
		return fmt.Errorf("tuning: packet_capacity must be >= 1, got %d", t.PacketCapacity)
	}
	if t.PollIntervalMs < 1 {
		return fmt.Errorf("tuning: poll_interval_ms must be >= 1, got %d", t.PollIntervalMs)
	}
	if t.MaxStableStalls < 1 {
		return fmt.Errorf("tuning: max_stable_stalls must be >= 1, got %d", t.MaxStableStalls)
	}
	if t.OutQueue < 1 {
		return fmt.Errorf("tuning: out_queue must be >= 1, got %d", t.OutQueue)
	}
	return nil
}
