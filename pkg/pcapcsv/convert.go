// Package pcapcsv exports per-frame attributes of pcapng captures as CSV.
package pcapcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Columns is the CSV header, in order.
var Columns = []string{
	"arrival_time",
	"arrival_time_epoch",
	"time_delta",
	"time_relative",
	"frame_length",
	"capture_length",
	"protocols",
	"interface_id",
	"interface_name",
}

// ArrivalTimeLayout formats the arrival_time column.
const ArrivalTimeLayout = "Jan _2, 2006 15:04:05.000000000 MST"

const inputExt = ".pcapng"

// protocolNames maps gopacket layer names to the short names capture tools
// print in a frame's protocol stack.
var protocolNames = map[string]string{
	"Ethernet": "eth",
	"Dot1Q":    "vlan",
	"IPv4":     "ip",
	"IPv6":     "ipv6",
	"Payload":  "data",
	"LinuxSLL": "sll",
}

// Convert reads a pcapng stream and writes one CSV row per packet. It
// returns the number of rows written.
func Convert(r io.Reader, w io.Writer) (int, error) {
	ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err != nil {
		return 0, fmt.Errorf("open pcapng: %w", err)
	}

	out := csv.NewWriter(w)
	if err := out.Write(Columns); err != nil {
		return 0, err
	}

	var (
		rows        int
		first, prev time.Time
	)
	for {
		data, ci, err := ng.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read packet %d: %w", rows+1, err)
		}

		ts := ci.Timestamp
		if rows == 0 {
			first, prev = ts, ts
		}

		var ifaceName string
		linkType := ng.LinkType()
		if iface, err := ng.Interface(ci.InterfaceIndex); err == nil {
			ifaceName = iface.Name
			linkType = iface.LinkType
		}

		record := []string{
			ts.UTC().Format(ArrivalTimeLayout),
			epoch(ts),
			seconds(ts.Sub(prev)),
			seconds(ts.Sub(first)),
			strconv.Itoa(ci.Length),
			strconv.Itoa(ci.CaptureLength),
			protocols(data, linkType),
			strconv.Itoa(ci.InterfaceIndex),
			ifaceName,
		}
		if err := out.Write(record); err != nil {
			return rows, err
		}
		rows++
		prev = ts
	}

	out.Flush()
	return rows, out.Error()
}

// ConvertFile converts in to out. A partially written out is removed on
// error.
func ConvertFile(in, out string) (int, error) {
	src, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return 0, err
	}

	rows, err := Convert(src, dst)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return rows, fmt.Errorf("%s: %w", filepath.Base(in), err)
	}
	return rows, nil
}

// Result describes one converted file.
type Result struct {
	Input  string
	Output string
	Rows   int
	Err    error
}

// ConvertDir converts every inDir/<name>.pcapng to outDir/<name>.csv using
// up to workers goroutines (0 means one per CPU). A failing file does not
// stop the others; all failures are joined in the returned error.
func ConvertDir(ctx context.Context, inDir, outDir string, workers int, logger zerolog.Logger) ([]Result, error) {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, fmt.Errorf("read input folder: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	var inputs []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), inputExt) {
			continue
		}
		inputs = append(inputs, e.Name())
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]Result, len(inputs))
	var g errgroup.Group
	g.SetLimit(workers)

	var mu sync.Mutex
	var errs []error

	for i, name := range inputs {
		in := filepath.Join(inDir, name)
		out := filepath.Join(outDir, strings.TrimSuffix(name, inputExt)+".csv")
		results[i] = Result{Input: in, Output: out}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			logger.Info().Str("file", name).Msg("Processing capture")
			rows, err := ConvertFile(in, out)
			results[i].Rows = rows
			if err != nil {
				results[i].Err = err
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				logger.Error().Err(err).Str("file", name).Msg("Capture conversion failed")
				return nil
			}
			logger.Info().Str("output", out).Int("rows", rows).Msg("Saved")
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

func epoch(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 9, 64)
}

func protocols(data []byte, linkType layers.LinkType) string {
	packet := gopacket.NewPacket(data, linkType, gopacket.NoCopy)
	var names []string
	for _, l := range packet.Layers() {
		lt := l.LayerType()
		if lt == gopacket.LayerTypeDecodeFailure {
			// Bytes no decoder understood are still reported, as data.
			names = append(names, protocolNames["Payload"])
			break
		}
		name := lt.String()
		if short, ok := protocolNames[name]; ok {
			name = short
		} else {
			name = strings.ToLower(name)
		}
		names = append(names, name)
	}
	return strings.Join(names, ":")
}
