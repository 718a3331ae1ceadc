package types

// Topology is the simulator wiring loaded from topology.yaml.
// Map keys are ids: socketTypes.<id>, endpoints.listen.<id>, profiles.<id>, eqps.<EQPID>.
type Topology struct {
	Defaults    TopologyDefaults         `yaml:"defaults"`
	SocketTypes map[string]SocketType    `yaml:"socketTypes"`
	Endpoints   Endpoints                `yaml:"endpoints"`
	Profiles    map[string]Profile       `yaml:"profiles"`
	Eqps        map[string]EqpDefinition `yaml:"eqps"`
	baseDir     string
}

// TopologyDefaults apply when an EQP sets no timeout of its own.
type TopologyDefaults struct {
	DefaultWaitTimeoutSec      int64 `yaml:"defaultWaitTimeoutSec"`
	DefaultHandshakeTimeoutSec int64 `yaml:"defaultHandshakeTimeoutSec"`
}

type SocketKind string

const (
	KindLineEnd  SocketKind = "LINE_END"
	KindStartEnd SocketKind = "START_END"
	KindRegex    SocketKind = "REGEX"
)

type LineEnding string

const (
	LineEndingLF   LineEnding = "LF"
	LineEndingCR   LineEnding = "CR"
	LineEndingCRLF LineEnding = "CRLF"
)

// SocketType defines how a byte stream is split into frames and how frames are wrapped on send.
type SocketType struct {
	Kind         SocketKind `yaml:"kind"`
	LineEnding   LineEnding `yaml:"lineEnding,omitempty"`
	StartHex     string     `yaml:"startHex,omitempty"` // e.g. "02", "0x02 0x03", "02,03"
	EndHex       string     `yaml:"endHex,omitempty"`
	RegexPattern string     `yaml:"regexPattern,omitempty"`
}

type Endpoints struct {
	Listen  map[string]ListenEndpoint  `yaml:"listen"`
	Connect map[string]ConnectEndpoint `yaml:"connect"`
	// ConnectBackoff overrides the [sim] backoff_* ini keys when present.
	ConnectBackoff *ConnectBackoff `yaml:"connectBackoff,omitempty"`
}

// ListenEndpoint is a PASSIVE bind address; connections above MaxConn are accepted then closed.
type ListenEndpoint struct {
	Bind    string `yaml:"bind"`
	MaxConn int    `yaml:"maxConn"`
}

// ConnectEndpoint is an ACTIVE target. ConnCount is only used for a consistency warning.
type ConnectEndpoint struct {
	Target    string `yaml:"target"`
	ConnCount int    `yaml:"connCount"`
}

type ConnectBackoff struct {
	InitialSec int64   `yaml:"initialSec"`
	MaxSec     int64   `yaml:"maxSec"`
	Multiplier float64 `yaml:"multiplier"`
}

type ProfileType string

const (
	ProfileScenario ProfileType = "SCENARIO"
	ProfileRate     ProfileType = "RATE" // reserved, no engine yet
)

type Profile struct {
	Type         ProfileType `yaml:"type"`
	ScenarioFile string      `yaml:"scenarioFile,omitempty"`
}

type EqpMode string

const (
	ModePassive EqpMode = "PASSIVE"
	ModeActive  EqpMode = "ACTIVE"
)

// EqpDefinition is one virtual equipment instance. The map key is the EQPID used by {eqpid}.
type EqpDefinition struct {
	Mode                EqpMode           `yaml:"mode"`
	Endpoint            string            `yaml:"endpoint"`
	SocketType          string            `yaml:"socketType"`
	Profile             string            `yaml:"profile"`
	WaitTimeoutSec      int64             `yaml:"waitTimeoutSec"`
	HandshakeTimeoutSec int64             `yaml:"handshakeTimeoutSec"`
	Vars                map[string]string `yaml:"vars"`
}

// BaseDir is the directory relative scenario files are resolved against.
func (t *Topology) BaseDir() string { return t.baseDir }

func (t *Topology) SetBaseDir(dir string) { t.baseDir = dir }
