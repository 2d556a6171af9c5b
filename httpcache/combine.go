package httpcache

import "strings"

var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

var contentSpecific = map[string]bool{
	"content-length":   true,
	"content-encoding": true,
	"content-type":     true,
}

func isHopByHop(name string) bool       { return hopByHop[strings.ToLower(name)] }
func isContentSpecific(name string) bool { return contentSpecific[strings.ToLower(name)] }

// Combine merges a 304 Not Modified network response into the cached
// response it validated. The result keeps the cached status and body
// headers and takes its timestamps from the network response.
//
// Cached 1xx warnings are dropped. Content headers always come from the
// cache, hop-by-hop headers only from the network, and any other header the
// network sent replaces the cached one.
func Combine(cached, network *Response) *Response {
	var h Headers

	cached.Header.Range(func(name, value string) bool {
		switch {
		case strings.EqualFold(name, "Warning") && strings.HasPrefix(value, "1"):
		case isHopByHop(name):
		case isContentSpecific(name) || !network.Header.Has(name):
			h.Add(name, value)
		}
		return true
	})
	network.Header.Range(func(name, value string) bool {
		if !isContentSpecific(name) {
			h.Add(name, value)
		}
		return true
	})

	return &Response{
		Code:               cached.Code,
		SentRequestAt:      network.SentRequestAt,
		ReceivedResponseAt: network.ReceivedResponseAt,
		Header:             h,
		Secure:             network.Secure,
	}
}
