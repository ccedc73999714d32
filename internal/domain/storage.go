package domain

import "context"

// Storage is the artifact sink. Locations returned by Put are opaque to the
// core and are handed back unchanged to Fetch and Delete.
type Storage interface {
	Put(ctx context.Context, localPath string, name string) (string, error)
	Fetch(ctx context.Context, location string, localPath string) error
	Delete(ctx context.Context, location string) error
	List(ctx context.Context) ([]string, error)
}
