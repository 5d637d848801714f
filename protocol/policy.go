package protocol

// Policy is the per-command encryption convention. Both peers must agree on it,
// since a receiver has to know whether a frame is ciphertext.
//
// The zero value encrypts every command.
type Policy struct {
	plaintext map[Command]bool
}

// DefaultPolicy encrypts every command.
func DefaultPolicy() Policy {
	return Policy{}
}

// NewPolicy encrypts every command except the given ones.
func NewPolicy(plaintextCommands ...Command) Policy {
	if len(plaintextCommands) == 0 {
		return Policy{}
	}
	p := Policy{plaintext: make(map[Command]bool, len(plaintextCommands))}
	for _, cmd := range plaintextCommands {
		p.plaintext[cmd] = true
	}
	return p
}

// Encrypted reports whether cmd must travel encrypted.
func (p Policy) Encrypted(cmd Command) bool {
	return !p.plaintext[cmd]
}

// AllowsPlaintext reports whether any command may travel unencrypted.
func (p Policy) AllowsPlaintext() bool {
	return len(p.plaintext) > 0
}
