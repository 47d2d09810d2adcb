package audit

import (
	"sort"
	"strings"
	"time"
)

// SuspiciousRequestThreshold is the request count above which a client
// address is listed as suspicious.
const SuspiciousRequestThreshold = 100

type EndpointCount struct {
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

type Stats struct {
	From                time.Time       `json:"from"`
	To                  time.Time       `json:"to"`
	TotalRequests       int             `json:"total_requests"`
	FailedLogins        int             `json:"failed_logins"`
	SuccessfulLogins    int             `json:"successful_logins"`
	SecurityEvents      int             `json:"security_events"`
	SuspiciousAddresses []string        `json:"suspicious_addresses"`
	TopEndpoints        []EndpointCount `json:"top_endpoints"`
}

// RecentReader is implemented by FileWriter.
type RecentReader interface {
	Recent(category Category, limit int, from, to time.Time) ([]Event, error)
}

// Summarize computes Stats over the API, AUTH and SECURITY events of a window.
func Summarize(api, auth, security []Event) Stats {
	st := Stats{
		TotalRequests:       len(api),
		SecurityEvents:      len(security),
		SuspiciousAddresses: []string{},
		TopEndpoints:        []EndpointCount{},
	}

	for _, e := range auth {
		switch {
		case strings.Contains(e.Message, "Login successful"):
			st.SuccessfulLogins++
		case strings.Contains(e.Message, "Login failed"):
			st.FailedLogins++
		}
	}

	perAddress := make(map[string]int)
	perEndpoint := make(map[string]int)
	for _, e := range api {
		if e.ClientAddress != "" {
			perAddress[e.ClientAddress]++
		}
		if e.Endpoint != "" {
			perEndpoint[e.Endpoint]++
		}
	}

	for addr, n := range perAddress {
		if n > SuspiciousRequestThreshold {
			st.SuspiciousAddresses = append(st.SuspiciousAddresses, addr)
		}
	}
	sort.Strings(st.SuspiciousAddresses)

	for ep, n := range perEndpoint {
		st.TopEndpoints = append(st.TopEndpoints, EndpointCount{Endpoint: ep, Count: n})
	}
	sort.Slice(st.TopEndpoints, func(i, j int) bool {
		if st.TopEndpoints[i].Count != st.TopEndpoints[j].Count {
			return st.TopEndpoints[i].Count > st.TopEndpoints[j].Count
		}
		return st.TopEndpoints[i].Endpoint < st.TopEndpoints[j].Endpoint
	})
	if len(st.TopEndpoints) > 10 {
		st.TopEndpoints = st.TopEndpoints[:10]
	}
	return st
}

// CollectStats reads the last window of events from r and summarises them.
func CollectStats(r RecentReader, window time.Duration, now time.Time, limit int) (Stats, error) {
	from := now.Add(-window)

	api, err := r.Recent(CategoryAPI, limit, from, now)
	if err != nil {
		return Stats{}, err
	}
	auth, err := r.Recent(CategoryAuth, limit, from, now)
	if err != nil {
		return Stats{}, err
	}
	security, err := r.Recent(CategorySecurity, limit, from, now)
	if err != nil {
		return Stats{}, err
	}

	st := Summarize(api, auth, security)
	st.From, st.To = from, now
	return st, nil
}
