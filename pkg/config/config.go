// Package config loads and republishes the gateway's INI configuration,
// per spec §6's recognized-key list. Grounded on the teacher's
// pkg/config/config.go shape (typed struct, CLI-flag overlay,
// homedir-expanded paths) with YAML replaced by gopkg.in/ini.v1 per
// spec §6's explicit INI requirement.
package config

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/ini.v1"
)

// TURNType enumerates general.turn_type's allowed values, per spec §6.
type TURNType string

const (
	TURNTypeUDP TURNType = "udp"
	TURNTypeTCP TURNType = "tcp"
	TURNTypeTLS TURNType = "tls"
)

// General corresponds to spec §6's general.* section.
type General struct {
	STUNServer  string
	STUNPort    uint16
	TURNServer  string
	TURNPort    uint16
	TURNType    TURNType
	TURNUser    string
	TURNPwd     string
	TURNRestAPI string
	APISecret   string
}

// Media corresponds to spec §6's media.* section.
type Media struct {
	RTPPortMin       uint16
	RTPPortMax       uint16
	IPv6             bool
	ICELite          bool
	ICETCP           bool
	FullTrickle      bool
	NackQueue        int
	NoMediaTimer     time.Duration
	RFC4588          bool
	EventStatsPeriod time.Duration
}

// NAT corresponds to spec §6's nat.* section.
type NAT struct {
	EnforceInterface string
	IgnoreInterface  string
	NAT1To1Mapping   string
}

// Auth corresponds to spec §6's auth.* section.
type Auth struct {
	TokenAuth   bool
	TokenSecret string
}

// Plugins corresponds to spec §6's plugins.* section.
type Plugins struct {
	Disable []string
}

// Transports corresponds to spec §6's transports.* section.
type Transports struct {
	Disable []string
}

// Snapshot is one immutable, fully-resolved configuration. Spec §5:
// "configuration snapshot... is read many, written rarely; updates are
// published atomically via a full replacement under a global mutex and
// readers copy what they need."
type Snapshot struct {
	General    General
	Media      Media
	NAT        NAT
	Auth       Auth
	Plugins    Plugins
	Transports Transports
}

// Store publishes Snapshot values atomically, per spec §5's "full
// replacement under a global mutex" instruction — implemented here
// with atomic.Pointer so readers never block a writer mid-read.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore wraps an initial Snapshot.
func NewStore(initial *Snapshot) *Store {
	s := &Store{}
	s.current.Store(initial)
	return s
}

// Load returns the current Snapshot. Callers must treat it as
// read-only; Replace swaps in a new one rather than mutating in place.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Replace atomically publishes a new Snapshot.
func (s *Store) Replace(next *Snapshot) {
	s.current.Store(next)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parsePortRange(v string) (min, max uint16, err error) {
	before, after, ok := strings.Cut(v, "-")
	if !ok {
		return 0, 0, errors.Errorf("config: malformed rtp_port_range %q, expected min-max", v)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(before))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "config: invalid rtp_port_range min %q", before)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(after))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "config: invalid rtp_port_range max %q", after)
	}
	if lo < 0 || lo > 65535 || hi < 0 || hi > 65535 || lo > hi {
		return 0, 0, errors.Errorf("config: rtp_port_range %q out of range", v)
	}
	return uint16(lo), uint16(hi), nil
}

// Load reads an INI file at path (expanding a leading ~ via
// go-homedir, per the teacher's path-handling idiom) and produces a
// Snapshot, applying spec §6's documented defaults for unset keys.
func Load(path string) (*Snapshot, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: expanding path")
	}

	f, err := ini.Load(expanded)
	if err != nil {
		return nil, errors.Wrapf(err, "config: loading %s", expanded)
	}

	snap := Default()

	gen := f.Section("general")
	snap.General.STUNServer = gen.Key("stun_server").MustString(snap.General.STUNServer)
	snap.General.STUNPort = uint16(gen.Key("stun_port").MustInt(int(snap.General.STUNPort)))
	snap.General.TURNServer = gen.Key("turn_server").MustString(snap.General.TURNServer)
	snap.General.TURNPort = uint16(gen.Key("turn_port").MustInt(int(snap.General.TURNPort)))
	if t := gen.Key("turn_type").MustString(string(snap.General.TURNType)); t != "" {
		snap.General.TURNType = TURNType(t)
	}
	snap.General.TURNUser = gen.Key("turn_user").MustString("")
	snap.General.TURNPwd = gen.Key("turn_pwd").MustString("")
	snap.General.TURNRestAPI = gen.Key("turn_rest_api").MustString("")
	snap.General.APISecret = gen.Key("api_secret").MustString("")

	media := f.Section("media")
	if rng := media.Key("rtp_port_range").MustString(""); rng != "" {
		min, max, err := parsePortRange(rng)
		if err != nil {
			return nil, err
		}
		snap.Media.RTPPortMin, snap.Media.RTPPortMax = min, max
	}
	snap.Media.IPv6 = media.Key("ipv6").MustBool(snap.Media.IPv6)
	snap.Media.ICELite = media.Key("ice_lite").MustBool(snap.Media.ICELite)
	snap.Media.ICETCP = media.Key("ice_tcp").MustBool(snap.Media.ICETCP)
	snap.Media.FullTrickle = media.Key("full_trickle").MustBool(snap.Media.FullTrickle)
	snap.Media.NackQueue = media.Key("nack_queue").MustInt(snap.Media.NackQueue)
	snap.Media.NoMediaTimer = time.Duration(media.Key("no_media_timer").MustInt(int(snap.Media.NoMediaTimer/time.Second))) * time.Second
	snap.Media.RFC4588 = media.Key("rfc4588").MustBool(snap.Media.RFC4588)
	snap.Media.EventStatsPeriod = time.Duration(media.Key("event_stats_period").MustInt(int(snap.Media.EventStatsPeriod/time.Second))) * time.Second

	nat := f.Section("nat")
	snap.NAT.EnforceInterface = nat.Key("enforce_interface").MustString("")
	snap.NAT.IgnoreInterface = nat.Key("ignore_interface").MustString("")
	snap.NAT.NAT1To1Mapping = nat.Key("nat_1_1_mapping").MustString("")

	auth := f.Section("auth")
	snap.Auth.TokenAuth = auth.Key("token_auth").MustBool(false)
	snap.Auth.TokenSecret = auth.Key("token_secret").MustString("")

	snap.Plugins.Disable = splitList(f.Section("plugins").Key("disable").MustString(""))
	snap.Transports.Disable = splitList(f.Section("transports").Key("disable").MustString(""))

	return snap, nil
}

// Default returns spec §6's documented defaults.
func Default() *Snapshot {
	return &Snapshot{
		Media: Media{
			RTPPortMin:       10000,
			RTPPortMax:       60000,
			NackQueue:        300,
			NoMediaTimer:     1 * time.Second,
			EventStatsPeriod: 10 * time.Second,
		},
		General: General{
			TURNType: TURNTypeUDP,
		},
	}
}

// Flags returns the urfave/cli/v2 flag set that overlays the INI file,
// grounded on the teacher's CLI-flag-overlay pattern.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path to INI configuration file", Value: "./rtcgate.ini"},
		&cli.StringFlag{Name: "stun-server", Usage: "override general.stun_server"},
		&cli.BoolFlag{Name: "ice-lite", Usage: "override media.ice_lite"},
		&cli.BoolFlag{Name: "full-trickle", Usage: "override media.full_trickle"},
	}
}

// ApplyFlags overlays CLI flag values onto snap, matching the
// teacher's "flags win over file" precedence.
func ApplyFlags(c *cli.Context, snap *Snapshot) {
	if c.IsSet("stun-server") {
		snap.General.STUNServer = c.String("stun-server")
	}
	if c.IsSet("ice-lite") {
		snap.Media.ICELite = c.Bool("ice-lite")
	}
	if c.IsSet("full-trickle") {
		snap.Media.FullTrickle = c.Bool("full-trickle")
	}
}
