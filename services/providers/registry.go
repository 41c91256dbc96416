package providers

import (
	"stock_data_backend/models"
	"stock_data_backend/services/refresh"
)

// Registry maps each data type to the provider client owning that
// capability. Built once at startup; the manager resolves through it at
// call time.
type Registry struct {
	byType map[models.DataType]refresh.ProviderClient
}

// NewRegistry creates an empty capability registry
func NewRegistry() *Registry {
	return &Registry{byType: make(map[models.DataType]refresh.ProviderClient)}
}

// Map assigns a provider client to a data type, replacing any previous
// assignment.
func (r *Registry) Map(dataType models.DataType, client refresh.ProviderClient) {
	r.byType[dataType] = client
}

// Resolve returns the owning client for a data type. Unmapped data types
// (derived ones such as indicators or signals, which are computed
// downstream rather than fetched) yield a validation error.
func (r *Registry) Resolve(dataType models.DataType) (refresh.ProviderClient, error) {
	client, ok := r.byType[dataType]
	if !ok {
		return nil, refresh.Validationf("no provider capability registered for data type %q", dataType)
	}
	return client, nil
}

// DefaultRegistry wires the standard capability split: VNDirect owns the
// historical and fundamental data, SSI owns the real-time quotes and news.
func DefaultRegistry(vndirect, ssi refresh.ProviderClient) *Registry {
	r := NewRegistry()
	r.Map(models.DataTypePriceHistorical, vndirect)
	r.Map(models.DataTypeFundamentals, vndirect)
	r.Map(models.DataTypeEarnings, vndirect)
	r.Map(models.DataTypePriceCurrent, ssi)
	r.Map(models.DataTypeNews, ssi)
	return r
}
