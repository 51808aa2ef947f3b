// Package conduit talks to Phabricator's Conduit RPC API. Core code
// depends only on the Caller interface; the HTTP client in this package
// is the default collaborator implementation with the token pre-applied.
package conduit

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Caller issues one Conduit method call and returns the raw result
// object. Implementations apply authentication themselves.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (gjson.Result, error)
}

// Pager wraps a Caller with cursor pagination and the run's fixed
// pre-call delay. A zero Delay disables rate limiting.
type Pager struct {
	Caller Caller
	Delay  time.Duration
}

// NewPager returns a Pager over caller with the given pre-call delay.
func NewPager(caller Caller, delay time.Duration) *Pager {
	return &Pager{Caller: caller, Delay: delay}
}

// FetchAll accumulates every page of a cursor-paginated method into one
// slice, preserving page order. Any page failure aborts the whole fetch.
func (p *Pager) FetchAll(ctx context.Context, method string, params map[string]any) ([]gjson.Result, error) {
	var all []gjson.Result
	after := ""
	for {
		p.sleep(ctx)
		call := params
		if after != "" {
			call = make(map[string]any, len(params)+1)
			for k, v := range params {
				call[k] = v
			}
			call["after"] = after
		}
		result, err := p.Caller.Call(ctx, method, call)
		if err != nil {
			return nil, fmt.Errorf("conduit %s %v: %w", method, call, err)
		}
		for _, rec := range result.Get("data").Array() {
			all = append(all, rec)
		}
		cursor := result.Get("cursor.after")
		if !cursor.Exists() || cursor.Type == gjson.Null || cursor.String() == "" {
			return all, nil
		}
		after = cursor.String()
	}
}

// CallRaw issues a single non-paginated call (the old-style API methods,
// e.g. the task event log) after the configured delay.
func (p *Pager) CallRaw(ctx context.Context, method string, params map[string]any) (gjson.Result, error) {
	p.sleep(ctx)
	result, err := p.Caller.Call(ctx, method, params)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("conduit %s %v: %w", method, params, err)
	}
	return result, nil
}

func (p *Pager) sleep(ctx context.Context) {
	if p.Delay <= 0 {
		return
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
