package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version     int    `json:"version"`
	WorldID     string `json:"world_id"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	KindsDigest string `json:"kinds_digest,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// MirrorV1 is a serialized world mirror. Kind ids are only meaningful
// together with Palette, which records the name of every id used, so a
// snapshot can be loaded after the server renumbers its kinds.
type MirrorV1 struct {
	Header Header `json:"header"`

	Palette map[uint32]string `json:"palette"`
	Layers  []LayerV1         `json:"layers"`
}

type LayerV1 struct {
	Layer int `json:"layer"`
	// Kinds is the RLE of kind ids in row-major order (y outer, x inner).
	Kinds string   `json:"kinds"`
	Args  []CellV1 `json:"args,omitempty"`
}

// CellV1 carries the encoded argument payload for a cell whose kind has a format.
type CellV1 struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Payload []byte `json:"payload"`
}

func WriteSnapshot(path string, snap MirrorV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("header: %w", err)
	}
	return h, nil
}

func ReadSnapshot(path string) (MirrorV1, error) {
	var snap MirrorV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Read header line (ignore it, gob also contains header).
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}
