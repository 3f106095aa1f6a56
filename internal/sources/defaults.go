package sources

import (
	"github.com/ymzkio/rule40-screener/pkg/httputil"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// Default source identifiers accepted in configuration.
const (
	SourceSP500  = "sp500"
	SourceSP400  = "sp400"
	SourceNasdaq = "nasdaq"
	SourceOther  = "other"
	SourceJPX    = "jpx"
)

// DefaultRegistry registers the built-in web sources. A CSV source is
// registered separately by the caller when a file path is configured.
func DefaultRegistry(client *httputil.Client, log *logger.Logger) *Registry {
	r := NewRegistry()
	r.Register(SourceSP500, NewWikipediaSP500(client, log))
	r.Register(SourceSP400, NewWikipediaSP400(client, log))
	r.Register(SourceNasdaq, NewNasdaqListed(client, log))
	r.Register(SourceOther, NewOtherListed(client, log))
	r.Register(SourceJPX, NewJPXListed(client, log))
	return r
}
