package mailbox

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"linksummary/internal/identity"
	"slices"
	"strconv"
)

type Endpoint struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// Registration announces the agent to the directory service.
type Registration struct {
	Address   string     `json:"address"`
	Name      string     `json:"name"`
	Endpoints []Endpoint `json:"endpoints"`
	Protocols []string   `json:"protocols"`
	Timestamp int64      `json:"timestamp"`
	Signature string     `json:"signature"`
}

// Digest covers the address, endpoints, sorted protocol digests and timestamp.
func (r *Registration) Digest() []byte {
	h := sha256.New()

	h.Write([]byte(r.Address))
	for _, e := range r.Endpoints {
		h.Write([]byte(e.URL))
		h.Write([]byte(strconv.Itoa(e.Weight)))
	}

	protocols := slices.Clone(r.Protocols)
	slices.Sort(protocols)
	for _, p := range protocols {
		h.Write([]byte(p))
	}

	h.Write([]byte(strconv.FormatInt(r.Timestamp, 10)))

	return h.Sum(nil)
}

func (r *Registration) Sign(id *identity.Identity) {
	r.Address = id.Address()
	r.Signature = base64.StdEncoding.EncodeToString(id.Sign(r.Digest()))
}

func (r *Registration) Verify() error {
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	return identity.Verify(r.Address, r.Digest(), sig)
}
