package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"linksummary/internal/identity"
	"log/slog"
	"slices"
	"strings"
)

const (
	protocolDigestPrefix = "proto:"
	manifestVersion      = "1.0"
	interactionNormal    = "normal"
)

var (
	ErrDuplicateHandler = errors.New("duplicate handler")
	ErrUnknownSchema    = errors.New("unknown schema digest")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrEmptyProtocol    = errors.New("protocol has no handlers")
)

// Context is what a handler sees of the agent that received the message.
type Context interface {
	Identity() *identity.Identity
	Sender() string
	Session() string
	Send(ctx context.Context, destination string, msg Model) error
	Logger() *slog.Logger
}

type HandlerFunc func(ctx context.Context, c Context, payload []byte) error

type handler struct {
	request modelInfo
	replies []modelInfo
	fn      HandlerFunc
}

// Protocol is a named group of message handlers.
type Protocol struct {
	name     string
	version  string
	handlers map[string]*handler
}

func New(name string, version string) *Protocol {
	return &Protocol{
		name:     strings.TrimSpace(name),
		version:  strings.TrimSpace(version),
		handlers: make(map[string]*handler),
	}
}

func (p *Protocol) Name() string {
	return p.name
}

func (p *Protocol) Version() string {
	return p.version
}

// On registers fn as the only handler for messages of type T.
// replies lists the model types fn may send back.
func On[T Model](
	p *Protocol,
	fn func(ctx context.Context, c Context, msg T) error,
	replies ...Model,
) error {
	var zero T

	request, err := describe(zero)
	if err != nil {
		return fmt.Errorf("describe request model: %w", err)
	}

	if _, ok := p.handlers[request.digest]; ok {
		return fmt.Errorf("%w: %s (protocol = %s)", ErrDuplicateHandler, request.name, p.name)
	}

	replyInfos := make([]modelInfo, 0, len(replies))
	for _, reply := range replies {
		info, describeErr := describe(reply)
		if describeErr != nil {
			return fmt.Errorf("describe reply model: %w", describeErr)
		}
		replyInfos = append(replyInfos, info)
	}

	p.handlers[request.digest] = &handler{
		request: request,
		replies: replyInfos,
		fn: func(ctx context.Context, c Context, payload []byte) error {
			var msg T
			if unmarshalErr := json.Unmarshal(payload, &msg); unmarshalErr != nil {
				return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, request.name, unmarshalErr)
			}

			return fn(ctx, c, msg)
		},
	}

	return nil
}

type ManifestMetadata struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
}

type ManifestModel struct {
	Digest string          `json:"digest"`
	Schema json.RawMessage `json:"schema"`
}

type ManifestInteraction struct {
	Type      string   `json:"type"`
	Request   string   `json:"request"`
	Responses []string `json:"responses"`
}

// Manifest is the machine-readable protocol description published to the directory.
type Manifest struct {
	Version      string                `json:"version"`
	Metadata     ManifestMetadata      `json:"metadata"`
	Models       []ManifestModel       `json:"models"`
	Interactions []ManifestInteraction `json:"interactions"`
}

func (p *Protocol) Manifest() (Manifest, error) {
	models := make(map[string]ManifestModel)
	interactions := make([]ManifestInteraction, 0, len(p.handlers))

	for digest, h := range p.handlers {
		models[digest] = ManifestModel{Digest: digest, Schema: h.request.schema}

		responses := make([]string, 0, len(h.replies))
		for _, reply := range h.replies {
			models[reply.digest] = ManifestModel{Digest: reply.digest, Schema: reply.schema}
			responses = append(responses, reply.digest)
		}
		slices.Sort(responses)

		interactions = append(interactions, ManifestInteraction{
			Type:      interactionNormal,
			Request:   digest,
			Responses: responses,
		})
	}

	slices.SortFunc(interactions, func(a, b ManifestInteraction) int {
		return strings.Compare(a.Request, b.Request)
	})

	modelList := make([]ManifestModel, 0, len(models))
	for _, m := range models {
		modelList = append(modelList, m)
	}
	slices.SortFunc(modelList, func(a, b ManifestModel) int {
		return strings.Compare(a.Digest, b.Digest)
	})

	m := Manifest{
		Version: manifestVersion,
		Metadata: ManifestMetadata{
			Name:    p.name,
			Version: p.version,
		},
		Models:       modelList,
		Interactions: interactions,
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}

	sum := sha256.Sum256(raw)
	m.Metadata.Digest = protocolDigestPrefix + hex.EncodeToString(sum[:])

	return m, nil
}

// Digest identifies the protocol by its name, version and message interactions.
func (p *Protocol) Digest() (string, error) {
	m, err := p.Manifest()
	if err != nil {
		return "", err
	}

	return m.Metadata.Digest, nil
}
