package utils

import (
	"net/http"
	"net/http/httputil"

	"github.com/rs/zerolog/log"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (fn roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return fn(r)
}

// DebugRoundTripperWithUnderlying dumps every request and response at debug
// level. Credentials in headers and the query string are masked.
func DebugRoundTripperWithUnderlying(u http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		dumped := r.Clone(r.Context())
		dumped.Header = MaskHeaders(r.Header)
		dumped.URL.RawQuery = MaskQuery(r.URL.Query()).Encode()
		d, _ := httputil.DumpRequestOut(dumped, false)
		log.Debug().Str("request", string(d)).Msg("bank request")

		res, err := u.RoundTrip(r)
		if err == nil {
			d, _ := httputil.DumpResponse(res, true)
			log.Debug().Str("response", string(d)).Msg("bank response")
		}
		return res, err
	})
}
