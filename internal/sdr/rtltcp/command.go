package rtltcp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Command identifies an rtl_tcp control command.
type Command uint8

// Command identifiers as understood by rtl_tcp.
const (
	SetCenterFreq     Command = 0x01
	SetSampleRate     Command = 0x02
	SetGainMode       Command = 0x03
	SetGain           Command = 0x04
	SetFreqCorrection Command = 0x05
	SetIFGain         Command = 0x06
	SetTestMode       Command = 0x07
	SetAGCMode        Command = 0x08
	SetDirectSampling Command = 0x09
	SetOffsetTuning   Command = 0x0a
	SetRTLXtalFreq    Command = 0x0b
	SetTunerXtalFreq  Command = 0x0c
	SetGainByIndex    Command = 0x0d
)

// Codes the reference receiver uses for AGC and direct sampling in its
// connect sequence. Upstream rtl_tcp reads 0x05 as frequency correction and
// 0x08 as AGC mode, so a stock server sees "correction 0 ppm, AGC on".
const (
	connectAGCMode        Command = 0x05
	connectDirectSampling Command = 0x08
)

var commandNames = map[Command]string{
	SetCenterFreq:     "center_freq",
	SetSampleRate:     "sample_rate",
	SetGainMode:       "gain_mode",
	SetGain:           "gain",
	SetFreqCorrection: "freq_correction",
	SetIFGain:         "if_gain",
	SetTestMode:       "test_mode",
	SetAGCMode:        "agc_mode",
	SetDirectSampling: "direct_sampling",
	SetOffsetTuning:   "offset_tuning",
	SetRTLXtalFreq:    "rtl_xtal_freq",
	SetTunerXtalFreq:  "tuner_xtal_freq",
	SetGainByIndex:    "gain_by_index",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%#02x)", uint8(c))
}

// frameSize is the length of an encoded command: one command byte followed
// by a big-endian 32-bit value.
const frameSize = 5

func encodeCommand(cmd Command, value uint32) []byte {
	return binary.BigEndian.AppendUint32(append(make([]byte, 0, frameSize), byte(cmd)), value)
}

// Tuner is the tuner chip reported by the server.
type Tuner uint32

const (
	TunerUnknown Tuner = iota
	TunerE4000
	TunerFC0012
	TunerFC0013
	TunerFC2580
	TunerR820T
	TunerR828D
)

func (t Tuner) String() string {
	switch t {
	case TunerE4000:
		return "E4000"
	case TunerFC0012:
		return "FC0012"
	case TunerFC0013:
		return "FC0013"
	case TunerFC2580:
		return "FC2580"
	case TunerR820T:
		return "R820T"
	case TunerR828D:
		return "R828D"
	default:
		return "unknown"
	}
}

var dongleMagic = [...]byte{'R', 'T', 'L', '0'}

// dongleInfoSize is the length of the header rtl_tcp sends on connect.
const dongleInfoSize = 12

// DongleInfo is the header rtl_tcp sends right after a client connects.
type DongleInfo struct {
	Magic     [4]byte
	Tuner     Tuner
	GainCount uint32 // Number of discrete gain steps the tuner supports
}

// Valid checks the magic matches "RTL0".
func (d DongleInfo) Valid() bool {
	return d.Magic == dongleMagic
}

// parseDongleInfo decodes a header from the start of b. The second return
// value is false when b does not start with a complete, valid header.
func parseDongleInfo(b []byte) (DongleInfo, bool) {
	var info DongleInfo
	if len(b) < dongleInfoSize || !bytes.HasPrefix(b, dongleMagic[:]) {
		return info, false
	}
	if err := binary.Read(bytes.NewReader(b[:dongleInfoSize]), binary.BigEndian, &info); err != nil {
		return info, false
	}
	return info, info.Valid()
}
