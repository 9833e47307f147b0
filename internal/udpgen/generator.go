package udpgen

import (
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/openpst/pstbench/internal/fsutil"
	"github.com/openpst/pstbench/internal/monitoring"
	"github.com/openpst/pstbench/internal/resources"
	"github.com/openpst/pstbench/internal/scanconfig"
)

// State is the lifecycle state of a generator.
type State int

const (
	// Waiting means generation has not been requested yet.
	Waiting State = iota
	// Starting means generation was requested but no data has been sent.
	Starting
	// Generating means data is being sent.
	Generating
	// Aborting means an abort was requested and sending is winding down.
	Aborting
	// Stopped means all data was sent or the generator was aborted.
	Stopped
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Starting:
		return "starting"
	case Generating:
		return "generating"
	case Aborting:
		return "aborting"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config assembles everything a generator needs for one scan.
type Config struct {
	Resources resources.ScanResources
	ScanID    uint64
	// Scanlen is how long to generate data for, in seconds.
	Scanlen float64
	// Source selects and parameterizes the signal.
	Source SourceConfig
	// RateBytesPerSecond overrides the pacing rate. Zero paces at the
	// scan's natural data rate; negative sends as fast as possible.
	RateBytesPerSecond float64
	// DropPackets lists packet sequence numbers to skip, simulating loss
	// on the way to the receiver.
	DropPackets []uint64
	// Seed makes the signal reproducible. Zero seeds from the clock.
	Seed int64
	// FS receives the scan configuration file the generator writes before
	// any data is sent. Nil writes to the operating system filesystem.
	FS fsutil.FileSystem
	// ConfigPath is where the scan configuration file goes. Empty defaults
	// to config_scan_<scan id>.txt in the working directory.
	ConfigPath string
}

// Generator sends one scan's worth of synthetic beam data over UDP. Create
// one with New, start it with Generate, and wait on WaitForEndOfData; a
// generator cannot be reused for a second scan.
type Generator struct {
	cfg  Config
	dest *net.UDPAddr

	nsampPerPacket int
	numPackets     uint64
	drop           map[uint64]struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	abort   bool
	sendErr error

	packetsSent uint64
	bytesSent   uint64
}

// New validates the configuration and builds a generator. The destination is
// the first channel block of the configuration the subarray reported.
func New(cfg Config, blocks scanconfig.ChannelBlockConfiguration) (*Generator, error) {
	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}
	if len(blocks.ChannelBlocks) == 0 {
		return nil, fmt.Errorf("channel block configuration has no channel blocks")
	}
	first := blocks.ChannelBlocks[0]
	if first.DestinationHost == nil || first.DestinationPort == nil {
		return nil, fmt.Errorf("channel block 0 has no destination endpoint")
	}
	return NewWithDestination(cfg, *first.DestinationHost, *first.DestinationPort)
}

// NewWithDestination builds a generator sending to an explicit endpoint.
func NewWithDestination(cfg Config, host string, port int) (*Generator, error) {
	if err := cfg.Source.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scanlen <= 0 {
		return nil, fmt.Errorf("scanlen must be positive, got %v", cfg.Scanlen)
	}
	res := cfg.Resources
	if res.Resolution <= 0 || res.Nchan <= 0 || res.Npol <= 0 {
		return nil, fmt.Errorf("scan resources are incomplete")
	}

	dest, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve data endpoint: %w", err)
	}

	nsampPerPacket := res.Resolution * 8 / (res.Nchan * res.Ndim * res.Npol * res.Nbits)
	if nsampPerPacket <= 0 {
		return nil, fmt.Errorf("resolution %d too small for packet geometry", res.Resolution)
	}

	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = fmt.Sprintf("config_scan_%d.txt", cfg.ScanID)
	}

	g := &Generator{
		cfg:            cfg,
		dest:           dest,
		nsampPerPacket: nsampPerPacket,
		numPackets:     uint64(math.Ceil(cfg.Scanlen * res.BytesPerSecond / float64(res.Resolution))),
		drop:           map[uint64]struct{}{},
		state:          Waiting,
	}
	g.cond = sync.NewCond(&g.mu)
	for _, p := range cfg.DropPackets {
		g.drop[p] = struct{}{}
	}
	return g, nil
}

// State returns the current lifecycle state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsStarting reports whether generation was requested but has not begun.
func (g *Generator) IsStarting() bool { return g.State() == Starting }

// IsGenerating reports whether data is being sent.
func (g *Generator) IsGenerating() bool { return g.State() == Generating }

// IsAborting reports whether an abort is in progress.
func (g *Generator) IsAborting() bool { return g.State() == Aborting }

// IsStopped reports whether the generator has finished.
func (g *Generator) IsStopped() bool { return g.State() == Stopped }

// Stats returns the packets and bytes sent so far.
func (g *Generator) Stats() (packets, bytes uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.packetsSent, g.bytesSent
}

// Err returns the send error that stopped the generator, if any.
func (g *Generator) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sendErr
}

// setState must be called with g.mu held.
func (g *Generator) setState(s State) {
	g.state = s
	g.cond.Broadcast()
}

// WaitFor blocks until the predicate holds or the timeout passes. It
// returns false on timeout.
func (g *Generator) WaitFor(pred func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	// Wake waiters periodically so the timeout is honored; state changes
	// broadcast as well.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.cond.Broadcast()
			}
		}
	}()

	g.mu.Lock()
	defer g.mu.Unlock()
	for !pred() {
		if time.Now().After(deadline) {
			return false
		}
		g.cond.Wait()
	}
	return true
}

// Generate starts sending data in the background. It returns once sending
// has begun.
func (g *Generator) Generate() error {
	g.mu.Lock()
	if g.state != Waiting {
		g.mu.Unlock()
		return fmt.Errorf("generator already generating data")
	}
	g.setState(Starting)
	g.mu.Unlock()

	go g.run()

	if !g.WaitFor(func() bool { return g.state == Generating || g.state == Stopped }, time.Second) {
		return fmt.Errorf("generator did not start within a second")
	}
	return g.Err()
}

// Abort stops sending. It is a no-op before Generate and blocks until the
// generator has stopped otherwise.
func (g *Generator) Abort() {
	g.mu.Lock()
	if g.state == Waiting {
		g.mu.Unlock()
		return
	}
	if g.state == Starting || g.state == Generating {
		g.abort = true
		g.setState(Aborting)
	}
	g.mu.Unlock()

	g.WaitFor(func() bool { return g.state == Stopped }, 10*time.Second)
}

// WaitForEndOfData blocks until all data has been sent, up to twice the scan
// length. It returns false on timeout.
func (g *Generator) WaitForEndOfData() bool {
	timeout := time.Duration(2 * g.cfg.Scanlen * float64(time.Second))
	return g.WaitFor(func() bool { return g.state == Stopped }, timeout)
}

func (g *Generator) run() {
	defer func() {
		g.mu.Lock()
		g.setState(Stopped)
		g.mu.Unlock()
	}()

	seed := g.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	res := g.cfg.Resources
	source, err := NewSource(g.cfg.Source, sourceParams{
		nchan: res.Nchan,
		npol:  res.Npol,
		tsamp: res.Tsamp,
		scale: 3000,
		seed:  seed,
	})
	if err != nil {
		g.fail(err)
		return
	}

	// The receive chain reads the scan configuration off disk, so it has
	// to be in place before the first packet leaves.
	if err := g.WriteConfigFile(g.cfg.FS, g.cfg.ConfigPath); err != nil {
		g.fail(err)
		return
	}

	conn, err := net.DialUDP("udp", nil, g.dest)
	if err != nil {
		g.fail(fmt.Errorf("dial data endpoint %s: %w", g.dest, err))
		return
	}
	defer conn.Close()

	g.beginSending()
	monitoring.Logf("udpgen: scan %d sending %d packets to %s", g.cfg.ScanID, g.numPackets, g.dest)

	rate := g.cfg.RateBytesPerSecond
	if rate == 0 {
		rate = res.BytesPerSecond
	}
	start := time.Now()

	header := PacketHeader{
		Magic:   PacketMagic,
		Version: PacketVersion,
		Nbit:    uint8(res.Nbits),
		Npol:    uint8(res.Npol),
		ScanID:  g.cfg.ScanID,
		Nchan:   uint16(res.Nchan),
		Nsamp:   uint16(g.nsampPerPacket),
	}
	weights := UnityWeights(res.Nchan)
	samples := make([]int16, g.nsampPerPacket*res.Nchan*res.Npol*2)

	for seq := uint64(0); seq < g.numPackets; seq++ {
		if g.aborted() {
			monitoring.Logf("udpgen: scan %d aborted after %d packets", g.cfg.ScanID, seq)
			return
		}
		if rate > 0 {
			due := start.Add(time.Duration(float64(seq) * float64(res.Resolution) / rate * float64(time.Second)))
			if wait := time.Until(due); wait > 0 {
				time.Sleep(wait)
			}
		}
		if _, skip := g.drop[seq]; skip {
			continue
		}

		g.fillSamples(source, seq, samples)
		header.Sequence = seq
		datagram, err := EncodePacket(header, weights, samples)
		if err != nil {
			g.fail(err)
			return
		}
		if _, err := conn.Write(datagram); err != nil {
			g.fail(fmt.Errorf("send packet %d: %w", seq, err))
			return
		}

		g.mu.Lock()
		g.packetsSent++
		g.bytesSent += uint64(len(datagram))
		g.mu.Unlock()
	}
	monitoring.Logf("udpgen: scan %d sent all %d packets", g.cfg.ScanID, g.numPackets)
}

func (g *Generator) fillSamples(source Source, seq uint64, samples []int16) {
	res := g.cfg.Resources
	i := 0
	for s := 0; s < g.nsampPerPacket; s++ {
		t := int(seq)*g.nsampPerPacket + s
		for c := 0; c < res.Nchan; c++ {
			for p := 0; p < res.Npol; p++ {
				v := source.Sample(t, c, p)
				samples[i] = clipInt16(real(v))
				samples[i+1] = clipInt16(imag(v))
				i += 2
			}
		}
	}
}

// beginSending moves the generator from Starting to Generating. An abort
// that arrived during startup keeps its state.
func (g *Generator) beginSending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Starting {
		g.setState(Generating)
	}
}

func (g *Generator) aborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.abort
}

func (g *Generator) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sendErr = err
	monitoring.Logf("udpgen: scan %d failed: %v", g.cfg.ScanID, err)
}

func clipInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
