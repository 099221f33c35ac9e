// Package firestore keeps host states in Google Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
)

// StatesCollection is the root collection; one document per state id.
const StatesCollection = "states"

// FirestoreStore implements StateStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// stateRecord is the internal DB representation.
// ID is duplicated into a field so prefix scans can use a range query.
type stateRecord struct {
	ID  string    `firestore:"id"`
	Val *string   `firestore:"val"`
	Ack bool      `firestore:"ack"`
	Ts  time.Time `firestore:"ts"`
}

func (s *FirestoreStore) GetState(ctx context.Context, id string) (dispatch.State, bool, error) {
	doc, err := s.stateRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return dispatch.State{}, false, nil
	}
	if err != nil {
		return dispatch.State{}, false, fmt.Errorf("firestore get %s: %w", id, err)
	}

	var record stateRecord
	if err := doc.DataTo(&record); err != nil {
		return dispatch.State{}, false, fmt.Errorf("%w: %s: %v", dispatch.ErrStateCorrupt, id, err)
	}
	return record.toState(), true, nil
}

func (s *FirestoreStore) SetState(ctx context.Context, id string, st dispatch.State) error {
	record := stateRecord{ID: id, Val: st.Val, Ack: st.Ack, Ts: st.Ts}
	if record.Ts.IsZero() {
		record.Ts = time.Now()
	}
	if _, err := s.stateRef(id).Set(ctx, record); err != nil {
		return fmt.Errorf("firestore set %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) DeleteState(ctx context.Context, id string) error {
	if _, err := s.stateRef(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete %s: %w", id, err)
	}
	return nil
}

func (s *FirestoreStore) ScanStates(ctx context.Context, prefix, suffix string) (map[string]dispatch.State, error) {
	query := s.client.Collection(StatesCollection).
		Where("id", ">=", prefix).
		Where("id", "<", prefix+"\uf8ff")
	iter := query.Documents(ctx)
	defer iter.Stop()

	out := make(map[string]dispatch.State)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record stateRecord
		if err := doc.DataTo(&record); err != nil {
			// skip corrupt rows
			continue
		}
		if strings.HasSuffix(record.ID, suffix) {
			out[record.ID] = record.toState()
		}
	}
	return out, nil
}

func (r stateRecord) toState() dispatch.State {
	return dispatch.State{Val: r.Val, Ack: r.Ack, Ts: r.Ts}
}

// stateRef: states/{id}. Host ids never contain '/'.
func (s *FirestoreStore) stateRef(id string) *firestore.DocumentRef {
	return s.client.Collection(StatesCollection).Doc(id)
}
