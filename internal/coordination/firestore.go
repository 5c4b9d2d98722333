package coordination

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/gravitational/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreDocs implements the document-read and subscription half of
// Adapter against a Firestore coordination store. The callable half is
// implemented separately by CallableClient; FirestoreAdapter embeds both.
type FirestoreDocs struct {
	Client *firestore.Client
}

// NewFirestoreDocs wraps an already-opened Firestore client.
func NewFirestoreDocs(client *firestore.Client) *FirestoreDocs {
	return &FirestoreDocs{Client: client}
}

// GetDoc implements Adapter.GetDoc.
func (f *FirestoreDocs) GetDoc(ctx context.Context, path string) (DocumentSnapshot, error) {
	snap, err := f.Client.Doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return DocumentSnapshot{}, nil
		}
		return DocumentSnapshot{}, trace.Wrap(err, "reading document %s", path)
	}
	if !snap.Exists() {
		return DocumentSnapshot{}, nil
	}
	return DocumentSnapshot{Exists: true, Data: snap.Data()}, nil
}

// ListDocs implements Adapter.ListDocs.
func (f *FirestoreDocs) ListDocs(ctx context.Context, collectionPath string) ([]DocumentSnapshot, error) {
	docs, err := f.Client.Collection(collectionPath).Documents(ctx).GetAll()
	if err != nil {
		return nil, trace.Wrap(err, "listing %s", collectionPath)
	}
	out := make([]DocumentSnapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentSnapshot{Exists: d.Exists(), Data: d.Data()})
	}
	return out, nil
}

// Subscribe implements Adapter.Subscribe. Snapshots are delivered in commit
// order for this ref; the returned Unsubscribe stops the underlying
// Firestore listener.
func (f *FirestoreDocs) Subscribe(ctx context.Context, path string, cb SnapshotCallback) (Unsubscribe, error) {
	ctx, cancel := context.WithCancel(ctx)
	iter := f.Client.Doc(path).Snapshots(ctx)

	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				return // includes context cancellation on Unsubscribe
			}
			if snap == nil || !snap.Exists() {
				cb(DocumentSnapshot{})
				continue
			}
			cb(DocumentSnapshot{Exists: true, Data: snap.Data()})
		}
	}()

	return func() { cancel() }, nil
}
