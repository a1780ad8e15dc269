package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rescale/runwatch/internal/logging"
)

// Sink kinds accepted by Open.
const (
	KindNone  = "none"
	KindFile  = "file"
	KindHTTP  = "http"
	KindS3    = "s3"
	KindAzure = "azure"
)

// ErrUnknownSink is returned by Open for an unrecognised sink kind.
var ErrUnknownSink = errors.New("unknown sink kind")

// Publisher delivers messages to one destination.
type Publisher interface {
	// Name identifies the sink kind in logs and events.
	Name() string
	// Target describes the destination (directory, URL, bucket).
	Target() string
	Publish(ctx context.Context, m *Message) error
}

// Options selects and configures a publisher.
type Options struct {
	Kind     string
	Target   string // directory for file, URL for http
	RetryMax int

	S3    S3Options
	Azure AzureOptions
}

// Open builds the publisher described by opts. Kind "none" (or empty)
// yields a publisher that discards messages.
func Open(ctx context.Context, opts Options, log *logging.Logger) (Publisher, error) {
	switch strings.ToLower(opts.Kind) {
	case "", KindNone:
		return Discard{}, nil
	case KindFile:
		return NewFilePublisher(opts.Target)
	case KindHTTP:
		return NewHTTPPublisher(opts.Target, opts.RetryMax, log)
	case KindS3:
		return NewS3Publisher(ctx, opts.S3)
	case KindAzure:
		return NewAzurePublisher(opts.Azure)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, opts.Kind)
	}
}

// Discard drops every message.
type Discard struct{}

func (Discard) Name() string                             { return KindNone }
func (Discard) Target() string                           { return "" }
func (Discard) Publish(context.Context, *Message) error { return nil }
