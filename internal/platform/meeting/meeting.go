// Package meeting produces video-session links for booked appointments.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUnavailable = errors.New("meeting link generator unavailable")

// Generator returns a join URL for a session. Implementations must honour ctx.
type Generator interface {
	Generate(ctx context.Context, panelID uuid.UUID, scheduledTime time.Time) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, panelID uuid.UUID, scheduledTime time.Time) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, panelID uuid.UUID, scheduledTime time.Time) (string, error) {
	return f(ctx, panelID, scheduledTime)
}

// RoomGenerator builds links of the form <base>/<panel>-<yyyymmddhhmm>-<random>.
type RoomGenerator struct {
	base *url.URL
}

func NewRoomGenerator(baseURL string) (*RoomGenerator, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse meeting base url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("meeting base url must be http(s), got %q", baseURL)
	}
	return &RoomGenerator{base: u}, nil
}

func (g *RoomGenerator) Generate(ctx context.Context, panelID uuid.UUID, scheduledTime time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	room := fmt.Sprintf("%s-%s-%s",
		strings.SplitN(panelID.String(), "-", 2)[0],
		scheduledTime.UTC().Format("200601021504"),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	)
	return g.base.JoinPath(room).String(), nil
}

// WithTimeout bounds every call to g by d. A generator that overruns yields
// ErrUnavailable.
func WithTimeout(g Generator, d time.Duration) Generator {
	return GeneratorFunc(func(ctx context.Context, panelID uuid.UUID, scheduledTime time.Time) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			link string
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			link, err := g.Generate(ctx, panelID, scheduledTime)
			ch <- result{link, err}
		}()
		select {
		case r := <-ch:
			if r.err != nil {
				return "", fmt.Errorf("%w: %v", ErrUnavailable, r.err)
			}
			if r.link == "" {
				return "", fmt.Errorf("%w: empty link", ErrUnavailable)
			}
			return r.link, nil
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
	})
}
