package persist

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/byster-one/queued/taskqueue"
)

// compressThreshold is the snapshot size, in bytes of
// encoded JSON, above which the snapshot is stored zstd
// compressed. Small tenants (the overwhelmingly common
// case) stay plain JSON so they remain trivially
// inspectable on disk.
const compressThreshold = 8 << 10 // 8 KiB

const (
	formatJSON byte = 'J'
	formatZstd byte = 'Z'
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
)

func initZstd() {
	zstdOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			panic(err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)))
		if err != nil {
			panic(err)
		}
		zstdEncoder = enc
		zstdDecoder = dec
	})
}

// readSnapshot loads the task list persisted at path, or an
// empty list if the file does not exist.
func readSnapshot(path string) ([]taskqueue.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	format, body := raw[0], raw[1:]
	switch format {
	case formatJSON:
		// fallthrough to decode below
	case formatZstd:
		initZstd()
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompressing snapshot: %w", err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("unrecognized snapshot format byte %q", format)
	}
	var list []taskqueue.Task
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// writeSnapshot atomically persists list to path, encoding
// it as zstd-compressed JSON once it crosses
// compressThreshold and as plain JSON otherwise.
func writeSnapshot(path string, list []taskqueue.Task) error {
	if list == nil {
		list = []taskqueue.Task{}
	}
	body, err := json.Marshal(list)
	if err != nil {
		return err
	}
	var out []byte
	if len(body) > compressThreshold {
		initZstd()
		out = make([]byte, 0, len(body)/2+1)
		out = append(out, formatZstd)
		out = zstdEncoder.EncodeAll(body, out)
	} else {
		out = make([]byte, 0, len(body)+1)
		out = append(out, formatJSON)
		out = append(out, body...)
	}
	return atomicWrite(path, out)
}

// readOffset reads the decimal integer stored at path, or 0
// if the file is absent or unparsable.
func readOffset(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return n
}

// writeOffset atomically persists offset to path.
func writeOffset(path string, offset int) error {
	return atomicWrite(path, []byte(strconv.Itoa(offset)))
}

// readLogLines returns the non-empty lines of the log file
// at path, or nil if the file does not exist. Each line is
// returned verbatim (without its trailing newline) for the
// caller to decode.
func readLogLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
