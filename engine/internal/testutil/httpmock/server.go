// Package httpmock provides a small route-spec driven HTTP test double for
// the plotter controller, used to script retry, flow-control, and
// cancellation scenarios without a real device.
package httpmock

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Response is a single scripted reply. A RouteSpec with Responses set cycles
// through them in order, repeating the last one once exhausted — this is
// what lets a test script "503, 503, 200" for a retry scenario.
type Response struct {
	Status  int
	Body    string
	Headers map[string]string
	Delay   time.Duration
}

type RouteSpec struct {
	Pattern     string
	Regex       bool
	MatchPrefix bool

	// Single-response shorthand, used when Responses is empty.
	Status  int
	Body    string
	Headers map[string]string
	Delay   time.Duration

	// Responses, when non-empty, overrides the single-response fields and is
	// consumed one entry per matching request.
	Responses []Response
}

type MockServer struct {
	server *httptest.Server
	mux    sync.Mutex
	routes []*routeState
}

type routeState struct {
	spec RouteSpec
	next int
}

func NewServer(routes []RouteSpec) *MockServer {
	ms := &MockServer{}
	ms.routes = make([]*routeState, 0, len(routes))
	for i := range routes {
		r := routes[i]
		if r.Status == 0 && len(r.Responses) == 0 {
			r.Status = http.StatusOK
		}
		ms.routes = append(ms.routes, &routeState{spec: r})
	}
	sort.SliceStable(ms.routes, func(i, j int) bool {
		return len(ms.routes[i].spec.Pattern) > len(ms.routes[j].spec.Pattern)
	})
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handle))
	return ms
}

func (m *MockServer) URL() string { return m.server.URL }
func (m *MockServer) Close()      { m.server.Close() }

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	m.mux.Lock()
	defer m.mux.Unlock()
	for _, rs := range m.routes {
		spec := rs.spec
		if spec.Regex {
			if matched, _ := regexp.MatchString(spec.Pattern, path); !matched {
				continue
			}
		} else if spec.MatchPrefix {
			if !strings.HasPrefix(path, spec.Pattern) {
				continue
			}
		} else if !strings.Contains(path, spec.Pattern) {
			continue
		}

		resp := resolveResponse(rs)
		if resp.Delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(resp.Delay):
			}
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.Status)
		_, _ = w.Write([]byte(resp.Body))
		return
	}
	log.Printf("httpmock: unmatched path %s", path)
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("not found"))
}

// resolveResponse picks the next scripted Response for a route, advancing
// its cursor, and holding on the final entry once exhausted.
func resolveResponse(rs *routeState) Response {
	if len(rs.spec.Responses) == 0 {
		return Response{Status: rs.spec.Status, Body: rs.spec.Body, Headers: rs.spec.Headers, Delay: rs.spec.Delay}
	}
	idx := rs.next
	if idx >= len(rs.spec.Responses) {
		idx = len(rs.spec.Responses) - 1
	} else {
		rs.next++
	}
	return rs.spec.Responses[idx]
}

func (m *MockServer) MustGet(ctx context.Context, path string) (*http.Response, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, m.URL()+path, nil)
	return http.DefaultClient.Do(req)
}
