package mailbox

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"linksummary/internal/identity"
	"time"
)

const EnvelopeVersion = 1

var (
	ErrEnvelopeExpired  = errors.New("envelope is expired")
	ErrEnvelopeUnsigned = errors.New("envelope is not signed")
)

// Envelope carries one signed message between agents.
type Envelope struct {
	Version        int    `json:"version"`
	Sender         string `json:"sender"`
	Target         string `json:"target"`
	Session        string `json:"session"`
	SchemaDigest   string `json:"schema_digest"`
	ProtocolDigest string `json:"protocol_digest,omitempty"`
	Payload        string `json:"payload,omitempty"`
	Expires        int64  `json:"expires,omitempty"`
	Nonce          int64  `json:"nonce,omitempty"`
	Signature      string `json:"signature,omitempty"`
}

func (e *Envelope) EncodePayload(payload []byte) {
	e.Payload = base64.StdEncoding.EncodeToString(payload)
}

func (e *Envelope) DecodePayload() ([]byte, error) {
	if e.Payload == "" {
		return nil, nil
	}

	payload, err := base64.StdEncoding.DecodeString(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	return payload, nil
}

// Digest covers every field except the signature.
func (e *Envelope) Digest() []byte {
	h := sha256.New()

	writeField := func(s string) {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(s)))
		h.Write(size[:])
		h.Write([]byte(s))
	}
	writeInt := func(n int64) {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		h.Write(b[:])
	}

	writeInt(int64(e.Version))
	writeField(e.Sender)
	writeField(e.Target)
	writeField(e.Session)
	writeField(e.SchemaDigest)
	writeField(e.ProtocolDigest)
	writeField(e.Payload)
	writeInt(e.Expires)
	writeInt(e.Nonce)

	return h.Sum(nil)
}

// ID is stable for a given signed envelope, so redeliveries share it.
func (e *Envelope) ID() string {
	return hex.EncodeToString(e.Digest())
}

func (e *Envelope) Seal(id *identity.Identity) {
	e.Sender = id.Address()
	e.Signature = base64.StdEncoding.EncodeToString(id.Sign(e.Digest()))
}

func (e *Envelope) Verify() error {
	if e.Signature == "" {
		return ErrEnvelopeUnsigned
	}

	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	return identity.Verify(e.Sender, e.Digest(), sig)
}

func (e *Envelope) Expired(now time.Time) bool {
	return e.Expires > 0 && now.Unix() > e.Expires
}
