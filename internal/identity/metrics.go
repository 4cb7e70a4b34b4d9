package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epicesports_identity_exchanges_total",
		Help: "Total number of provider callback exchanges by provider and result",
	}, []string{"provider", "result"})

	keySetFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epicesports_google_key_set_fetches_total",
		Help: "Total number of Google signing key set fetches by result",
	}, []string{"result"})
)

func recordExchange(provider, result string) {
	providerExchanges.WithLabelValues(provider, result).Inc()
}

func recordKeySetFetch(result string) {
	keySetFetches.WithLabelValues(result).Inc()
}
