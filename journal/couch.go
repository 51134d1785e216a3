package journal

import (
	"context"

	_ "github.com/go-kivik/couchdb/v3"
	"github.com/go-kivik/kivik/v3"
)

type CouchStore struct {
	cancel func()
	db     *kivik.DB
}

var _ Store = (*CouchStore)(nil)

// OpenCouch connects to CouchDB at uri and creates the named database if it
// does not exist yet.
func OpenCouch(uri string, name string) (*CouchStore, error) {
	client, err := kivik.New("couch", uri)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	dbs, err := client.AllDBs(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	found := false
	for _, db := range dbs {
		if db == name {
			found = true
			break
		}
	}
	if !found {
		err = client.CreateDB(ctx, name)
		if err != nil {
			cancel()
			return nil, err
		}
	}
	db := client.DB(ctx, name)
	if err := db.Err(); err != nil {
		cancel()
		return nil, err
	}
	return &CouchStore{cancel: cancel, db: db}, nil
}

func (s *CouchStore) Put(ctx context.Context, id string, doc *Doc) (string, error) {
	return s.db.Put(ctx, id, doc)
}

func (s *CouchStore) Close() error {
	s.cancel()
	return nil
}
