package xfirestore

import (
	"context"

	"cloud.google.com/go/datastore"
)

// The Firestore state store uses the GCP Firestore (in Datastore mode) Go client API.
// We're decoupling this API here on consumer side for full unit test capabilities.

type FirestoreClient interface {
	Put(ctx context.Context, key *datastore.Key, src any) (*datastore.Key, error)
	Get(ctx context.Context, key *datastore.Key, dst any) (err error)
}
