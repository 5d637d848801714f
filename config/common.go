package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mmx233/QTalk/protocol"
	"github.com/Mmx233/QTalk/tools"
	"github.com/Mmx233/QTalk/transport"
	"github.com/quic-go/quic-go"
)

const (
	EnvPrefix = "QTALK_"

	// EnvKey holds pre-shared keys, comma separated and newest first, so they
	// can stay out of config files.
	EnvKey = EnvPrefix + "KEY"
)

// SuiteNone disables packet encryption.
const SuiteNone = "none"

var ErrNoKey = errors.New("no pre-shared key configured")

type Listen struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

func (l Listen) GetIP() (net.IP, error) {
	ip := net.ParseIP(l.IP)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip address: %s", l.IP)
	}
	return ip, nil
}

// Addr returns the host:port to listen on.
func (l Listen) Addr() string {
	return net.JoinHostPort(l.IP, strconv.Itoa(l.Port))
}

type Quic struct {
	KeepAlivePeriod      time.Duration `yaml:"keep_alive_period"`
	HandshakeIdleTimeout time.Duration `yaml:"handshake_idle_timeout"`
	MaxIdleTimeout       time.Duration `yaml:"max_idle_timeout"`
}

func (q Quic) GetConfig() *quic.Config {
	if q.MaxIdleTimeout == 0 {
		q.MaxIdleTimeout = DefaultMaxIdleTimeout
	}
	if q.KeepAlivePeriod == 0 {
		q.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	return &quic.Config{
		KeepAlivePeriod:      q.KeepAlivePeriod,
		HandshakeIdleTimeout: q.HandshakeIdleTimeout,
		MaxIdleTimeout:       q.MaxIdleTimeout,
	}
}

// Cipher selects the packet encryption suite and its pre-shared keys.
type Cipher struct {
	Suite string `yaml:"suite"` // fernet, secretbox or none
	// Keys are base64 encoded, newest first.
	Keys []string `yaml:"keys"`
	// KeyFile holds one key per line, appended after Keys.
	KeyFile string `yaml:"key_file"`
	// Overlap bounds how many keys stay valid for decryption after a rotation.
	Overlap int `yaml:"overlap"`
	// TTL rejects older Fernet tokens. Zero accepts any age.
	TTL time.Duration `yaml:"ttl"`
	// PlaintextCommands travel unencrypted. Both peers must agree.
	PlaintextCommands []string `yaml:"plaintext_commands"`
}

// Enabled reports whether packets are encrypted at all.
func (c Cipher) Enabled() bool {
	return c.Suite != SuiteNone
}

func (c Cipher) Validate() error {
	switch c.Suite {
	case "", SuiteNone, string(protocol.SuiteFernet), string(protocol.SuiteSecretbox):
	default:
		return fmt.Errorf("unsupported cipher suite %q", c.Suite)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("cipher overlap must not be negative, got %d", c.Overlap)
	}
	for _, cmd := range c.PlaintextCommands {
		if !protocol.Known(protocol.Command(cmd)) {
			return fmt.Errorf("plaintext_commands: unknown command %q", cmd)
		}
	}
	return nil
}

// ResolveKeys gathers keys from the environment, the config and the key file,
// newest first.
func (c Cipher) ResolveKeys() ([]string, error) {
	keys := tools.GetenvList(EnvKey)
	keys = append(keys, c.Keys...)

	if c.KeyFile != "" {
		data, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			keys = append(keys, line)
		}
	}
	return keys, nil
}

// Build returns the packet cipher and encryption policy. The cipher is nil
// when encryption is disabled.
func (c Cipher) Build() (protocol.Cipher, protocol.Policy, error) {
	if err := c.Validate(); err != nil {
		return nil, protocol.Policy{}, err
	}
	if !c.Enabled() {
		return nil, protocol.DefaultPolicy(), nil
	}

	keys, err := c.ResolveKeys()
	if err != nil {
		return nil, protocol.Policy{}, err
	}
	if len(keys) == 0 {
		return nil, protocol.Policy{}, fmt.Errorf("%w: set cipher.keys, cipher.key_file or %s", ErrNoKey, EnvKey)
	}

	var opts []protocol.SuiteOption
	if c.TTL > 0 {
		opts = append(opts, protocol.WithTTL(c.TTL))
	}
	kr, err := protocol.NewKeyring(protocol.Suite(c.Suite), c.Overlap, keys, opts...)
	if err != nil {
		return nil, protocol.Policy{}, fmt.Errorf("load keys: %w", err)
	}

	commands := make([]protocol.Command, len(c.PlaintextCommands))
	for i, cmd := range c.PlaintextCommands {
		commands[i] = protocol.Command(cmd)
	}
	return kr, protocol.NewPolicy(commands...), nil
}

// ValidateAddress validates that an address is in valid host:port format.
// Returns an error if the address is invalid.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %q: %w", addr, err)
	}

	if host == "" {
		return fmt.Errorf("host cannot be empty in address %q", addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q: %w", addr, err)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d in address %q", port, addr)
	}

	return nil
}

func validateTransport(name string) error {
	_, err := transport.ParseKind(name)
	return err
}
