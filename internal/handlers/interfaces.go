package handlers

import (
	"context"

	"github.com/BluceCao2018/funbenchmark.com/pkg/geoip"
	"github.com/BluceCao2018/funbenchmark.com/pkg/models"
)

// ResultsGateway is the slice of the persistence gateway the results
// endpoints need.
type ResultsGateway interface {
	ReadResults(ctx context.Context) (models.ResultStore, error)
	WriteResults(ctx context.Context, store models.ResultStore) error
}

// MessagesGateway is the slice of the persistence gateway the timed-message
// endpoints need.
type MessagesGateway interface {
	ReadMessages(ctx context.Context) (*models.MessageStore, error)
	WriteMessages(ctx context.Context, store *models.MessageStore) error
	StoreMedia(ctx context.Context, data []byte, contentType, ownerID, filename string) (string, error)
}

// GeoResolver resolves a remote IP to location tags; nil result means no
// tags get attached.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) *geoip.GeoData
}

var _ GeoResolver = (*geoip.Resolver)(nil)
