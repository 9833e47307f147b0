package scanconfig

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/openpst/pstbench/internal/monitoring"
)

const (
	minChannelBlocks = 1
	maxChannelBlocks = 8

	minBlockPort = 10000
	maxBlockPort = 32768

	minChannel = 0
	maxChannel = 82943
)

// ChannelBlock is one contiguous range of channels routed to a UDP endpoint.
type ChannelBlock struct {
	DestinationHost *string `json:"destination_host"`
	DestinationPort *int    `json:"destination_port"`
	StartPSTChannel *int    `json:"start_pst_channel"`
	NumPSTChannels  *int    `json:"num_pst_channels"`
}

// lowest and highest are the inclusive channel bounds of the block.
func (b ChannelBlock) lowest() int  { return *b.StartPSTChannel }
func (b ChannelBlock) highest() int { return *b.StartPSTChannel + *b.NumPSTChannels - 1 }

// ChannelBlockConfiguration is the channel routing a subarray reports after
// configuring a scan.
type ChannelBlockConfiguration struct {
	NumChannelBlocks *int           `json:"num_channel_blocks"`
	ChannelBlocks    []ChannelBlock `json:"channel_blocks"`
}

// ChannelBlockValidator decodes and validates a channel block configuration
// document.
type ChannelBlockValidator struct {
	raw    map[string]json.RawMessage
	config ChannelBlockConfiguration
}

// NewChannelBlockValidator decodes the configuration. Decoding errors are
// returned here; semantic problems are reported by Validate.
func NewChannelBlockValidator(encoded []byte) (*ChannelBlockValidator, error) {
	monitoring.Logf("channel block config %s", encoded)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return nil, fmt.Errorf("channel block configuration was invalid JSON: %w", err)
	}
	var config ChannelBlockConfiguration
	if err := json.Unmarshal(encoded, &config); err != nil {
		return nil, fmt.Errorf("channel block configuration was invalid JSON: %w", err)
	}
	return &ChannelBlockValidator{raw: raw, config: config}, nil
}

// IsEmpty reports whether the configuration document is an empty object, the
// value a subarray publishes before any scan is configured.
func (v *ChannelBlockValidator) IsEmpty() bool {
	return len(v.raw) == 0
}

// Validate checks the channel block configuration: required keys, block
// count within [1, 8] and matching the block list, each block's endpoint and
// channel range, and that no two blocks overlap in channels or share an
// endpoint.
func (v *ChannelBlockValidator) Validate() error {
	if v.config.NumChannelBlocks == nil {
		return fmt.Errorf("channel block configuration missing required key %q", "num_channel_blocks")
	}
	if _, ok := v.raw["channel_blocks"]; !ok {
		return fmt.Errorf("channel block configuration missing required key %q", "channel_blocks")
	}

	n := *v.config.NumChannelBlocks
	if n < minChannelBlocks || n > maxChannelBlocks {
		return fmt.Errorf("num_channel_blocks %d not in range [%d, %d]", n, minChannelBlocks, maxChannelBlocks)
	}
	if len(v.config.ChannelBlocks) != n {
		return fmt.Errorf("mismatch between num_channel_blocks %d and the number of channel blocks %d",
			n, len(v.config.ChannelBlocks))
	}

	blocks := v.config.ChannelBlocks
	for i, block := range blocks {
		if err := validateBlock(i, block); err != nil {
			return err
		}
	}
	for i, a := range blocks {
		for j, b := range blocks {
			if i == j {
				continue
			}
			if !(b.highest() < a.lowest() || b.lowest() > a.highest()) {
				return fmt.Errorf("channel block %d channels overlap with channel block %d", j, i)
			}
			if *a.DestinationHost == *b.DestinationHost && *a.DestinationPort == *b.DestinationPort {
				return fmt.Errorf("channel block %d endpoint [%s:%d] same as channel block %d",
					j, *b.DestinationHost, *b.DestinationPort, i)
			}
		}
	}
	return nil
}

func validateBlock(index int, block ChannelBlock) error {
	switch {
	case block.DestinationHost == nil:
		return fmt.Errorf("channel_block %d missing required key destination_host", index)
	case block.DestinationPort == nil:
		return fmt.Errorf("channel_block %d missing required key destination_port", index)
	case block.StartPSTChannel == nil:
		return fmt.Errorf("channel_block %d missing required key start_pst_channel", index)
	case block.NumPSTChannels == nil:
		return fmt.Errorf("channel_block %d missing required key num_pst_channels", index)
	}

	addr, err := netip.ParseAddr(*block.DestinationHost)
	if err != nil || !addr.Is4() {
		return fmt.Errorf("channel block %d destination_host [%s] invalid IPv4 address",
			index, *block.DestinationHost)
	}
	if port := *block.DestinationPort; port < minBlockPort || port > maxBlockPort {
		return fmt.Errorf("channel block %d destination_port not in range %d-%d",
			index, minBlockPort, maxBlockPort)
	}
	if block.lowest() < minChannel {
		return fmt.Errorf("channel block %d lowest channel [%d] below minimum [%d]",
			index, block.lowest(), minChannel)
	}
	if block.highest() > maxChannel {
		return fmt.Errorf("channel block %d highest channel [%d] above maximum [%d]",
			index, block.highest(), maxChannel)
	}
	if block.lowest() >= block.highest() {
		return fmt.Errorf("channel block %d lowest channel [%d] not less than highest channel [%d]",
			index, block.lowest(), block.highest())
	}
	return nil
}
