package heater

import (
	"encoding/binary"
	"fmt"
	"math"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// StatusFrameLen is the minimum length of a decodable status frame.
const StatusFrameLen = 18

// kelvinOffset converts the heater's whole-degree Celsius readings to Kelvin.
const kelvinOffset = 273

// Status frame offsets.
const (
	offCommand         = 2
	offRunStatus       = 3
	offErrorCode       = 4
	offRunningState    = 5
	offAltitude        = 6 // 2 bytes, big-endian
	offOperationalMode = 8
	offTargetTemp      = 9
	offPowerLevel      = 10
	offSupplyVoltage   = 11
	offReserved1       = 12
	offChamberTemp     = 13
	offReserved2       = 14
	offRoomTemp        = 15
	offReserved3       = 16
	offErrorCode2      = 17
)

// RunStatus reports whether the heater is switched on.
type RunStatus bool

const (
	Off RunStatus = false
	On  RunStatus = true
)

func (s RunStatus) String() string {
	if s {
		return "ON"
	}
	return "OFF"
}

// RunningState is the heater's combustion phase.
type RunningState int

const (
	Warmup RunningState = iota
	SelfTest
	Ignition
	Heating
	ShuttingDown
	Unknown
)

var runningStateNames = [...]string{
	Warmup:       "Warmup",
	SelfTest:     "Self test",
	Ignition:     "Ignition",
	Heating:      "Heating",
	ShuttingDown: "Shutting down",
	Unknown:      "Unknown",
}

// ParseRunningState maps the raw state byte; values past ShuttingDown are Unknown.
func ParseRunningState(b byte) RunningState {
	if b > byte(ShuttingDown) {
		return Unknown
	}
	return RunningState(b)
}

func (s RunningState) String() string {
	if s < Warmup || s > Unknown {
		return runningStateNames[Unknown]
	}
	return runningStateNames[s]
}

// Record is one decoded status frame. Temperatures are in Kelvin, altitude in
// meters, voltage in Volts.
type Record struct {
	Command            int
	RunStatus          RunStatus
	ErrorCode          int
	RunningState       RunningState
	Altitude           uint16
	OperationalMode    int
	TargetTemp         int
	PowerLevel         int
	SupplyVoltage      float64
	HeatingChamberTemp int
	RoomTemp           int
	ErrorCode2         int

	// Reserved holds the raw bytes at offsets 12, 14 and 16. Their meaning is not
	// known, so they are kept as received and never published.
	Reserved [3]uint8
}

// Decode parses a status frame. Frames shorter than StatusFrameLen fail with
// ErrMalformedFrame and yield the zero Record.
func Decode(frame []byte) (Record, error) {
	if len(frame) < StatusFrameLen {
		return Record{}, fmt.Errorf("%w: status frame needs %d bytes, got %d", ErrMalformedFrame, StatusFrameLen, len(frame))
	}

	return Record{
		Command:            int(int8(frame[offCommand])),
		RunStatus:          frame[offRunStatus] != 0,
		ErrorCode:          int(int8(frame[offErrorCode])),
		RunningState:       ParseRunningState(frame[offRunningState]),
		Altitude:           binary.BigEndian.Uint16(frame[offAltitude:]),
		OperationalMode:    int(int8(frame[offOperationalMode])),
		TargetTemp:         toKelvin(frame[offTargetTemp]),
		PowerLevel:         int(int8(frame[offPowerLevel])),
		SupplyVoltage:      deciVolts(frame[offSupplyVoltage]),
		HeatingChamberTemp: toKelvin(frame[offChamberTemp]),
		RoomTemp:           toKelvin(frame[offRoomTemp]),
		ErrorCode2:         int(int8(frame[offErrorCode2])),
		Reserved:           [3]uint8{frame[offReserved1], frame[offReserved2], frame[offReserved3]},
	}, nil
}

func toKelvin(b byte) int {
	return int(int8(b)) + kelvinOffset
}

// deciVolts scales a signed deci-volt reading to Volts with two-decimal precision.
func deciVolts(b byte) float64 {
	return math.Round(float64(int8(b))*10) / 100
}

// Fields returns the publishable values in wire order, keyed by telemetry name.
// Reserved bytes are not included.
func (r Record) Fields() *orderedmap.OrderedMap[string, any] {
	m := orderedmap.New[string, any]()
	m.Set("command", r.Command)
	m.Set("runstatus", r.RunStatus.String())
	m.Set("errorcode", r.ErrorCode)
	m.Set("runningstate", r.RunningState.String())
	m.Set("altitude", r.Altitude)
	m.Set("operationalmode", r.OperationalMode)
	m.Set("targettemp", r.TargetTemp)
	m.Set("powerlevel", r.PowerLevel)
	m.Set("supplyvoltage", r.SupplyVoltage)
	m.Set("heatingchambertemp", r.HeatingChamberTemp)
	m.Set("roomtemp", r.RoomTemp)
	m.Set("errcode2", r.ErrorCode2)
	return m
}
