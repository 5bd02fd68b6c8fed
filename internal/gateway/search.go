// Package gateway implements the stateless search front: a single
// endpoint that turns a free-text query into live chatroom descriptors
// by resolving each term through discovery and fanning count lookups
// out to the owning instances.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gerber4/searchbuddy/internal/discovery"
	"github.com/gerber4/searchbuddy/internal/metrics"
	"github.com/gerber4/searchbuddy/internal/protocol"
)

// fanoutTimeout bounds each count lookup against an instance.
const fanoutTimeout = 5 * time.Second

// Searcher aggregates search results across the fleet.
type Searcher struct {
	discovery *discovery.Client
	http      *http.Client
}

// NewSearcher builds a Searcher resolving terms against the given
// discovery client.
func NewSearcher(disc *discovery.Client) *Searcher {
	return &Searcher{
		discovery: disc,
		http:      &http.Client{Timeout: fanoutTimeout},
	}
}

// termGroup is the set of searched terms owned by one instance, in
// request order.
type termGroup struct {
	address string
	terms   []string
}

// Search resolves a whitespace-separated query into chatroom
// descriptors. Terms that cannot be resolved or whose instance cannot
// be reached are logged and omitted; the result is never an error.
func (s *Searcher) Search(ctx context.Context, query string) []protocol.ChatroomInfo {
	metrics.Searches.Inc()

	out := []protocol.ChatroomInfo{}
	for _, group := range s.locate(ctx, uniqueTerms(query)) {
		counts, err := s.roomCounts(ctx, group.address, group.terms)
		if err != nil {
			metrics.InstanceErrors.Inc()
			slog.Error("instance unreachable", "address", group.address, "err", err)
			continue
		}
		for _, term := range group.terms {
			status, ok := counts[term]
			if !ok {
				slog.Warn("instance response missing term", "address", group.address, "term", term)
				continue
			}
			out = append(out, protocol.ChatroomInfo{
				ChatroomID: status.ChatroomID,
				NumUsers:   status.UserCount,
				Online:     true,
				Term:       term,
				URL:        "ws://" + group.address + "/ws",
			})
		}
	}
	return out
}

// locate resolves every term and groups them by owning instance.
// Groups come back in first-seen order, terms inside a group in request
// order.
func (s *Searcher) locate(ctx context.Context, terms []string) []termGroup {
	var groups []termGroup
	index := make(map[string]int)

	for _, term := range terms {
		instance, err := s.discovery.Chatroom(ctx, term)
		if err != nil {
			slog.Error("resolve term", "term", term, "err", err)
			continue
		}
		if instance == nil {
			metrics.UnboundTerms.Inc()
			slog.Warn("no instance for term", "term", term)
			continue
		}

		i, ok := index[instance.Address]
		if !ok {
			i = len(groups)
			index[instance.Address] = i
			groups = append(groups, termGroup{address: instance.Address})
		}
		groups[i].terms = append(groups[i].terms, term)
	}
	return groups
}

// roomCounts asks one instance for the room behind each term.
func (s *Searcher) roomCounts(ctx context.Context, address string, terms []string) (map[string]protocol.RoomStatus, error) {
	payload, err := json.Marshal(terms)
	if err != nil {
		return nil, fmt.Errorf("encode terms: %w", err)
	}

	url := fmt.Sprintf("http://%s/chatrooms", address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}

	var counts map[string]protocol.RoomStatus
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", url, err)
	}
	return counts, nil
}

// uniqueTerms splits a query on whitespace and drops repeats, keeping
// first occurrences in order.
func uniqueTerms(query string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, term := range strings.Fields(query) {
		if seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}
	return terms
}
