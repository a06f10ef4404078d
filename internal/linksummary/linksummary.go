// Package linksummary answers WebsiteLink requests with a summary of the
// linked page.
package linksummary

import (
	"context"
	"errors"
	"fmt"
	"linksummary/internal/chain"
	"linksummary/internal/domain"
	"linksummary/internal/protocol"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cloudwego/eino/schema"
	"mvdan.cc/xurls/v2"
)

const (
	ProtocolName    = "Website Link Summarizer"
	ProtocolVersion = "0.1.0"
)

type Step string

const (
	StepValidate  Step = "validate"
	StepRetrieve  Step = "retrieve"
	StepSummarize Step = "summarize"
)

var ErrInvalidLink = errors.New("invalid link")

var strictURL = xurls.Strict()

// StepError tells which part of handling a link failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

type Loader interface {
	Load(ctx context.Context, rawURL string) ([]*schema.Document, error)
}

type Chain interface {
	Run(ctx context.Context, docs []*schema.Document) (string, error)
}

type Handler struct {
	loader Loader
	chain  Chain
	log    *slog.Logger
}

func NewHandler(loader Loader, chain Chain, log *slog.Logger) *Handler {
	return &Handler{
		loader: loader,
		chain:  chain,
		log:    log,
	}
}

// NewProtocol registers h for WebsiteLink requests under name and version.
func NewProtocol(h *Handler, name string, version string) (*protocol.Protocol, error) {
	if strings.TrimSpace(name) == "" {
		name = ProtocolName
	}
	if strings.TrimSpace(version) == "" {
		version = ProtocolVersion
	}

	p := protocol.New(name, version)
	if err := protocol.On(p, h.Handle, domain.SummaryResponse{}); err != nil {
		return nil, fmt.Errorf("register link handler: %w", err)
	}

	return p, nil
}

// Handle sends exactly one reply to the sender of req. Only a failure to
// deliver that reply is returned.
func (h *Handler) Handle(ctx context.Context, c protocol.Context, req domain.LinkRequest) error {
	log := c.Logger().With("sender", c.Sender(), "link", req.Link)

	reply := domain.SummaryResponse{Type: domain.ResponseTypeFinal}

	summary, err := h.Summarize(ctx, req.Link)
	if err != nil {
		log.WarnContext(ctx, "Failed to summarize link",
			"error", err)

		reply = domain.SummaryResponse{
			Message: ReplyMessage(err),
			Type:    domain.ResponseTypeError,
		}
	} else {
		reply.Message = summary
	}

	if err = c.Send(ctx, c.Sender(), reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	log.InfoContext(ctx, "Reply is sent",
		"type", reply.Type)

	return nil
}

// Summarize retrieves the page behind link and summarizes it. Errors are
// *StepError values.
func (h *Handler) Summarize(ctx context.Context, link string) (string, error) {
	normalized, err := ValidateLink(link)
	if err != nil {
		return "", &StepError{Step: StepValidate, Err: err}
	}

	docs, err := h.loader.Load(ctx, normalized)
	if err != nil {
		return "", &StepError{Step: StepRetrieve, Err: err}
	}

	h.log.DebugContext(ctx, "Page is retrieved",
		"link", normalized,
		"fragments", len(docs))

	summary, err := h.chain.Run(ctx, docs)
	if err != nil {
		return "", &StepError{Step: StepSummarize, Err: err}
	}

	return summary, nil
}

// ValidateLink accepts only absolute http(s) URLs with a host.
func ValidateLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLink)
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidLink, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q is not supported", ErrInvalidLink, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%w: host is missing", ErrInvalidLink)
	}

	if strictURL.FindString(link) != link {
		return "", fmt.Errorf("%w: %q is not a single URL", ErrInvalidLink, link)
	}

	return u.String(), nil
}

// ReplyMessage renders err as the text of an ERROR reply.
func ReplyMessage(err error) string {
	if errors.Is(err, chain.ErrEmptyContent) {
		return chain.ErrEmptyContent.Error()
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return "failed to summarize page: " + err.Error()
	}

	switch stepErr.Step {
	case StepValidate:
		return stepErr.Err.Error()
	case StepRetrieve:
		return "failed to retrieve page: " + stepErr.Err.Error()
	default:
		return "failed to summarize page: " + stepErr.Err.Error()
	}
}
